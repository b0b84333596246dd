package relay

// Outbound message types sent to the quote-distribution relay.
const (
	TypeCreateRFQ       = "create_rfq"
	TypeSubscribeQuotes = "subscribe_quotes"
	TypeAcceptQuote     = "accept_quote"
	TypeCancelRFQ       = "cancel_rfq"
)

// Inbound message types received from the relay.
const (
	TypeQuote = "quote"
	TypeFill  = "fill"
)

// CreateRFQMessage announces a new auction to market makers.
type CreateRFQMessage struct {
	Type         string  `json:"type"`
	RFQID        string  `json:"rfqId"`
	Underlying   string  `json:"underlying"`
	OptionType   string  `json:"optionType"`
	Strike       float64 `json:"strike"`
	Expiry       int64   `json:"expiry"` // unix seconds
	Size         float64 `json:"size"`
	PremiumFloor float64 `json:"premiumFloor,omitempty"`
	Timestamp    int64   `json:"timestamp"` // unix seconds
}

// SubscribeQuotesMessage opens the quote stream for one RFQ.
type SubscribeQuotesMessage struct {
	Type  string `json:"type"`
	RFQID string `json:"rfqId"`
}

// AcceptQuoteMessage notifies the relay which quote won.
type AcceptQuoteMessage struct {
	Type    string `json:"type"`
	RFQID   string `json:"rfqId"`
	QuoteID string `json:"quoteId"`
}

// CancelRFQMessage withdraws an open auction.
type CancelRFQMessage struct {
	Type  string `json:"type"`
	RFQID string `json:"rfqId"`
}

// QuoteMessage is a market maker's bid relayed for an open RFQ.
type QuoteMessage struct {
	Type              string  `json:"type"`
	RFQID             string  `json:"rfqId"`
	QuoteID           string  `json:"quoteId"`
	Maker             string  `json:"maker"`
	SettlementAccount string  `json:"settlementAccount,omitempty"`
	Premium           float64 `json:"premium"`
	ExpiresAt         int64   `json:"expiresAt"` // unix seconds, 0 = no expiry
}

// FillMessage confirms the relay observed the fill for an RFQ.
type FillMessage struct {
	Type  string `json:"type"`
	RFQID string `json:"rfqId"`
}
