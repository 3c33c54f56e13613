package envelope

import "time"

// ACHPayload is the channel-specific wire shape for an ACH file line.
type ACHPayload struct {
	MessageID     string
	CorrelationID string
	OccurredAt    time.Time
	LoanID        *string
	AmountCents   int64
	ValueDate     time.Time
	Reference     string
	RoutingNumber string
	AccountMask   string
	ReturnCode    *string
	SECCode       *string
	Provider      string
	BatchID       *string
}

// FromACHPayload converts a channel-specific ACH payload into the
// canonical envelope. It does not validate; call Validate afterward.
func FromACHPayload(p ACHPayload) *Envelope {
	e := &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     p.MessageID,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.OccurredAt,
		Source: Source{
			Channel:  ChannelACH,
			Provider: p.Provider,
			BatchID:  p.BatchID,
		},
		Borrower: Borrower{LoanID: p.LoanID},
		Payment: Payment{
			AmountCents:   p.AmountCents,
			Currency:      "USD",
			Method:        ChannelACH,
			ValueDate:     p.ValueDate,
			Reference:     p.Reference,
			RoutingNumber: &p.RoutingNumber,
			AccountMask:   &p.AccountMask,
			ReturnCode:    p.ReturnCode,
			SECCode:       p.SECCode,
		},
	}
	DeriveIdempotencyKey(e)
	return e
}

// WirePayload is the channel-specific shape for a Fedwire/CHIPS credit.
type WirePayload struct {
	MessageID      string
	CorrelationID  string
	OccurredAt     time.Time
	LoanID         *string
	AmountCents    int64
	ValueDate      time.Time
	Reference      string
	BankTransferID *string
	Provider       string
}

// FromWirePayload converts a wire transfer payload into the canonical envelope.
func FromWirePayload(p WirePayload) *Envelope {
	e := &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     p.MessageID,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.OccurredAt,
		Source:        Source{Channel: ChannelWire, Provider: p.Provider},
		Borrower:      Borrower{LoanID: p.LoanID},
		Payment: Payment{
			AmountCents: p.AmountCents,
			Currency:    "USD",
			Method:      ChannelWire,
			ValueDate:   p.ValueDate,
			Reference:   p.Reference,
		},
	}
	if p.BankTransferID != nil {
		e.External = &External{BankTransferID: p.BankTransferID}
	}
	DeriveIdempotencyKey(e)
	return e
}

// CheckPayload is the channel-specific shape for a lockbox-scanned check.
type CheckPayload struct {
	MessageID     string
	CorrelationID string
	OccurredAt    time.Time
	LoanID        *string
	AmountCents   int64
	ValueDate     time.Time
	CheckNumber   string
	ImageURI      string
	ImageHash     string
	Provider      string
}

// FromCheckPayload converts a scanned-check payload into the canonical envelope.
func FromCheckPayload(p CheckPayload) *Envelope {
	e := &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     p.MessageID,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.OccurredAt,
		Source:        Source{Channel: ChannelCheck, Provider: p.Provider},
		Borrower:      Borrower{LoanID: p.LoanID},
		Payment: Payment{
			AmountCents: p.AmountCents,
			Currency:    "USD",
			Method:      ChannelCheck,
			ValueDate:   p.ValueDate,
			Reference:   p.CheckNumber,
			CheckNumber: &p.CheckNumber,
		},
	}
	if p.ImageURI != "" {
		e.Artifacts = []Artifact{{Type: "check_image", URI: p.ImageURI, Hash: p.ImageHash}}
	}
	DeriveIdempotencyKey(e)
	return e
}

// RealtimePayload is the channel-specific shape for an RTP/FedNow credit.
type RealtimePayload struct {
	MessageID     string
	CorrelationID string
	OccurredAt    time.Time
	LoanID        *string
	AmountCents   int64
	ValueDate     time.Time
	Reference     string
	PSPID         *string
	Provider      string
}

// FromRealtimePayload converts a real-time-rail payload into the canonical envelope.
func FromRealtimePayload(p RealtimePayload) *Envelope {
	e := &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     p.MessageID,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.OccurredAt,
		Source:        Source{Channel: ChannelRealtime, Provider: p.Provider},
		Borrower:      Borrower{LoanID: p.LoanID},
		Payment: Payment{
			AmountCents: p.AmountCents,
			Currency:    "USD",
			Method:      ChannelRealtime,
			ValueDate:   p.ValueDate,
			Reference:   p.Reference,
		},
	}
	if p.PSPID != nil {
		e.External = &External{PSPID: p.PSPID}
	}
	DeriveIdempotencyKey(e)
	return e
}

// BookPayload is the channel-specific shape for an internal book-transfer
// (e.g. suspense cleanup, investor clawback) posting.
type BookPayload struct {
	MessageID     string
	CorrelationID string
	OccurredAt    time.Time
	LoanID        *string
	AmountCents   int64
	ValueDate     time.Time
	Reference     string
}

// FromBookPayload converts an internal book-transfer payload into the canonical envelope.
func FromBookPayload(p BookPayload) *Envelope {
	e := &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     p.MessageID,
		CorrelationID: p.CorrelationID,
		OccurredAt:    p.OccurredAt,
		Source:        Source{Channel: ChannelBook},
		Borrower:      Borrower{LoanID: p.LoanID},
		Payment: Payment{
			AmountCents: p.AmountCents,
			Currency:    "USD",
			Method:      ChannelBook,
			ValueDate:   p.ValueDate,
			Reference:   p.Reference,
		},
	}
	DeriveIdempotencyKey(e)
	return e
}
