package stats

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"alpha_bot/internal/models"
)

// Sink — внешнее хранилище статистики (postgres). Опционально.
type Sink interface {
	SaveRun(ctx context.Context, snap models.StatsSnapshot) error
	AppendBalance(ctx context.Context, account string, sample models.BalanceSample) error
}

// Save пишет снимок в <dir>/stats_<account>_<ts>.json через tmp + rename,
// чтобы прерванный процесс не оставил полфайла.
func (r *Recorder) Save(dir string) (string, error) {
	snap := r.Snapshot()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir stats dir")
	}
	data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "marshal stats")
	}

	name := fmt.Sprintf("stats_%s_%s.json", safeName(r.account), r.now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create tmp stats file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "write stats")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "close stats")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", errors.Wrap(err, "rename stats")
	}
	return path, nil
}

// Flush — файл плюс все sinks. Ошибки копим, файл пишем в любом случае.
func (r *Recorder) Flush(ctx context.Context, dir string, sinks ...Sink) (string, error) {
	path, err := r.Save(dir)
	if len(sinks) == 0 {
		return path, err
	}
	snap := r.Snapshot()
	for _, s := range sinks {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.SaveRun(ctx, snap))
	}
	return path, err
}

// LoadSnapshot — обратное чтение файла (для проверки и утилит).
func LoadSnapshot(path string) (models.StatsSnapshot, error) {
	var snap models.StatsSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, errors.Wrap(err, "read stats")
	}
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return snap, errors.Wrap(err, "decode stats")
	}
	return snap, nil
}

// BalanceLog — временной ряд баланса аккаунта: <dir>/<account>.csv, строка на цикл.
type BalanceLog struct {
	account string
	path    string
	sinks   []Sink

	mu sync.Mutex
}

func NewBalanceLog(dir, account string, sinks ...Sink) (*BalanceLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir balance dir")
	}
	return &BalanceLog{
		account: account,
		path:    filepath.Join(dir, safeName(account)+".csv"),
		sinks:   sinks,
	}, nil
}

func (l *BalanceLog) Path() string { return l.path }

func (l *BalanceLog) Append(ctx context.Context, at time.Time, value float64) error {
	l.mu.Lock()
	err := l.appendFile(at, value)
	l.mu.Unlock()

	sample := models.BalanceSample{At: at, Value: value, Source: models.SamplePoll}
	for _, s := range l.sinks {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.AppendBalance(ctx, l.account, sample))
	}
	return err
}

func (l *BalanceLog) appendFile(at time.Time, value float64) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open balance log")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat balance log")
	}

	w := csv.NewWriter(f)
	if st.Size() == 0 {
		_ = w.Write([]string{"timestamp", "balance"})
	}
	_ = w.Write([]string{at.Format(time.RFC3339), strconv.FormatFloat(value, 'f', -1, 64)})
	w.Flush()
	return errors.Wrap(w.Error(), "write balance log")
}

// ReadBalances — все точки ряда.
func ReadBalances(path string) ([]models.BalanceSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open balance log")
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read balance log")
	}

	out := make([]models.BalanceSample, 0, len(rows))
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		at, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: timestamp", i)
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: balance", i)
		}
		out = append(out, models.BalanceSample{At: at, Value: v, Source: models.SamplePoll})
	}
	return out, nil
}

func safeName(s string) string {
	if s == "" {
		return "default"
	}
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
