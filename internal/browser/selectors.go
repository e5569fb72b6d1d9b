package browser

// Selectors — XPath-локаторы торгового терминала. Дефолты под spot-терминал,
// любое поле переопределяется в accounts.yaml (секция selectors).
type Selectors struct {
	Price       string `yaml:"price"`
	PriceBackup string `yaml:"price_backup"`
	Balance     string `yaml:"balance"`

	LimitPrice   string `yaml:"limit_price"`
	LimitAmount  string `yaml:"limit_amount"`
	LimitTotal   string `yaml:"limit_total"`
	ReversePrice string `yaml:"reverse_price"`
	ReverseCheck string `yaml:"reverse_checkbox"` // CSS

	BuyTab     string `yaml:"buy_tab"`
	SellTab    string `yaml:"sell_tab"`
	BuyButton  string `yaml:"buy_button"`
	SellButton string `yaml:"sell_button"`

	ConfirmButton   string `yaml:"confirm_button"`
	ContinueButton  string `yaml:"continue_button"`
	SlippageCancel  string `yaml:"slippage_cancel"`
	SlippageConfirm string `yaml:"slippage_confirm"`

	OrderTable       string `yaml:"order_table"`
	OrderRowsCSS     string `yaml:"order_rows_css"`
	OrderPaneCSS     string `yaml:"order_pane_css"`
	CancelAll        string `yaml:"cancel_all"`
	CancelLink       string `yaml:"cancel_link"`
	CancelSingle     string `yaml:"cancel_single"`
	CancelConfirm    string `yaml:"cancel_confirm"`
	CancelConfirmAlt string `yaml:"cancel_confirm_alt"`

	TradeScroll   string `yaml:"trade_scroll"`
	GridScroll    string `yaml:"grid_scroll"`
	PageLoaded    string `yaml:"page_loaded"`
	OverlayHost   string `yaml:"overlay_host"`   // CSS shadow host окна верификации
	OverlayMarker string `yaml:"overlay_marker"` // CSS внутри shadowRoot
	OverlayInput  string `yaml:"overlay_input"`  // CSS внутри shadowRoot
}

func DefaultSelectors() Selectors {
	return Selectors{
		Price:       "(//*[contains(@class,'ReactVirtualized__Grid__innerScrollContainer')]//*[contains(@class,'flex-1') and contains(@class,'cursor-pointer')])[1]",
		PriceBackup: "//*[@aria-label='grid']//*[contains(@class,'cursor-pointer')][1]",
		Balance:     "//*[contains(@class,'bn-flex') and contains(@class,'text-TertiaryText') and contains(@class,'justify-between')]//*[contains(@class,'text-PrimaryText')]",

		LimitPrice:   "//*[@id='limitPrice']",
		LimitAmount:  "//*[@id='limitAmount']",
		LimitTotal:   "(//input[@id='limitTotal'])[1]",
		ReversePrice: "(//input[@id='limitTotal'])[2]",
		ReverseCheck: ".bn-checkbox.bn-checkbox__square.data-size-md",

		BuyTab:     "(//*[@role='tab'])[1]",
		SellTab:    "(//*[@role='tab'])[2]",
		BuyButton:  "//button[contains(@class,'bn-button__buy')]",
		SellButton: "//button[contains(@class,'bn-button__sell')]",

		ConfirmButton:   "//div[contains(@class,'bn-modal')]//button[contains(@class,'bn-button__primary')]",
		ContinueButton:  "//div[contains(@class,'bn-modal')]//button[contains(@class,'bn-button__primary')]",
		SlippageCancel:  "//div[contains(@class,'bn-modal')]//button[contains(@class,'bn-button__secondary')]",
		SlippageConfirm: "//div[contains(@class,'bn-modal')]//button[contains(@class,'bn-button__primary')][1]",

		OrderTable:       "//tbody[contains(@class,'bn-web-table-tbody')]",
		OrderRowsCSS:     "tbody.bn-web-table-tbody > tr[aria-rowindex]",
		OrderPaneCSS:     "#bn-tab-pane-orderOrder",
		CancelAll:        "//*[@id='bn-tab-pane-orderOrder']//div[contains(text(),'Cancel')]",
		CancelLink:       "//*[@id='bn-tab-pane-orderOrder']//a[contains(text(),'Cancel')]",
		CancelSingle:     "//tbody[contains(@class,'bn-web-table-tbody')]//tr[1]//a[contains(@class,'cancel')]",
		CancelConfirm:    "//div[contains(@class,'bn-modal')]//button[contains(@class,'bn-button__primary')]",
		CancelConfirmAlt: "//button[contains(text(),'Confirm')]",

		TradeScroll:   "//*[@id='__APP']//*[contains(@class,'order-form')]",
		GridScroll:    "//*[@aria-label='grid']",
		PageLoaded:    "(//*[contains(@class,'bg-BasicBg')]//*[contains(@class,'text-PrimaryText')])[1]",
		OverlayHost:   "#mfa-shadow-host",
		OverlayMarker: "div.mfa-verify-page div.bn-formItem",
		OverlayInput:  "input[data-e2e='input-mfa']",
	}
}

// Merge — непустые поля override перекрывают базу.
func (s Selectors) Merge(override Selectors) Selectors {
	out := s
	pick := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	pick(&out.Price, override.Price)
	pick(&out.PriceBackup, override.PriceBackup)
	pick(&out.Balance, override.Balance)
	pick(&out.LimitPrice, override.LimitPrice)
	pick(&out.LimitAmount, override.LimitAmount)
	pick(&out.LimitTotal, override.LimitTotal)
	pick(&out.ReversePrice, override.ReversePrice)
	pick(&out.ReverseCheck, override.ReverseCheck)
	pick(&out.BuyTab, override.BuyTab)
	pick(&out.SellTab, override.SellTab)
	pick(&out.BuyButton, override.BuyButton)
	pick(&out.SellButton, override.SellButton)
	pick(&out.ConfirmButton, override.ConfirmButton)
	pick(&out.ContinueButton, override.ContinueButton)
	pick(&out.SlippageCancel, override.SlippageCancel)
	pick(&out.SlippageConfirm, override.SlippageConfirm)
	pick(&out.OrderTable, override.OrderTable)
	pick(&out.OrderRowsCSS, override.OrderRowsCSS)
	pick(&out.OrderPaneCSS, override.OrderPaneCSS)
	pick(&out.CancelAll, override.CancelAll)
	pick(&out.CancelLink, override.CancelLink)
	pick(&out.CancelSingle, override.CancelSingle)
	pick(&out.CancelConfirm, override.CancelConfirm)
	pick(&out.CancelConfirmAlt, override.CancelConfirmAlt)
	pick(&out.TradeScroll, override.TradeScroll)
	pick(&out.GridScroll, override.GridScroll)
	pick(&out.PageLoaded, override.PageLoaded)
	pick(&out.OverlayHost, override.OverlayHost)
	pick(&out.OverlayMarker, override.OverlayMarker)
	pick(&out.OverlayInput, override.OverlayInput)
	return out
}
