package membership

// MemberTier is the membership category a registrant applies for.
type MemberTier string

const (
	TierBishop MemberTier = "bispo"
	TierPastor MemberTier = "pastor"
	TierDeacon MemberTier = "diacono"
	TierMember MemberTier = "membro"
)

// ValidTier reports whether the tier is one of the known categories.
func ValidTier(t MemberTier) bool {
	switch t {
	case TierBishop, TierPastor, TierDeacon, TierMember:
		return true
	}
	return false
}

// BillingMethod selects how the registration charge is collected.
type BillingMethod string

const (
	MethodCard   BillingMethod = "CREDIT_CARD"
	MethodPix    BillingMethod = "PIX"
	MethodBoleto BillingMethod = "BOLETO"
)

// ValidBillingMethod reports whether the method is supported.
func ValidBillingMethod(m BillingMethod) bool {
	switch m {
	case MethodCard, MethodPix, MethodBoleto:
		return true
	}
	return false
}

// Synchronous reports whether the method confirms at charge creation time.
// PIX and boleto confirm out of band and require polling or a webhook.
func (m BillingMethod) Synchronous() bool {
	return m == MethodCard
}

// Address is the registrant's billing address.
type Address struct {
	PostalCode   string `json:"cep"`
	Street       string `json:"logradouro"`
	Number       string `json:"numero"`
	Complement   string `json:"complemento,omitempty"`
	Neighborhood string `json:"bairro"`
	City         string `json:"cidade"`
	State        string `json:"estado"`
}

// CardData carries card details for synchronous charges. Never persisted.
type CardData struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CCV         string `json:"ccv"`
}

// RegistrationRequest is the transient input of one registration flow.
// It only lives for the duration of a single flow invocation; durable
// traces of it exist through the created account and charge records.
type RegistrationRequest struct {
	Name        string        `json:"nome"`
	Email       string        `json:"email"`
	Password    string        `json:"password"`
	TaxID       string        `json:"cpf"`
	Phone       string        `json:"telefone"`
	Address     Address       `json:"endereco"`
	Tier        MemberTier    `json:"tipo_membro"`
	PlanID      string        `json:"plan_id"`
	Method      BillingMethod `json:"payment_method"`
	Card        *CardData     `json:"card_data,omitempty"`
	AffiliateID string        `json:"affiliate_id,omitempty"`

	// IdempotencyKey lets a client retry a submission without risking a
	// duplicate charge. When empty the orchestrator derives a stable key.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Redacted returns a copy safe to persist: no card details, no password.
// Account creation keys on email and never stores a credential, so a
// reconciled registration loses nothing from the redaction.
func (r RegistrationRequest) Redacted() RegistrationRequest {
	r.Password = ""
	r.Card = nil
	return r
}
