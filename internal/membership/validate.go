package membership

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldError describes a single user-correctable input problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return e.Field + ": " + e.Message
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate runs the synchronous, stateless field checks for a registration.
// It never contacts external services. An empty slice means the request is
// acceptable for processing.
func Validate(req RegistrationRequest) []FieldError {
	var errs []FieldError
	add := func(field, message string) {
		errs = append(errs, FieldError{Field: field, Message: message})
	}

	if len(strings.TrimSpace(req.Name)) < 2 {
		add("nome", "name must have at least 2 characters")
	}
	if !emailPattern.MatchString(req.Email) {
		add("email", "invalid email")
	}
	if len(req.Password) < 6 {
		add("password", "password must have at least 6 characters")
	}
	if !ValidTaxID(req.TaxID) {
		add("cpf", "invalid CPF")
	}
	if !validPhone(req.Phone) {
		add("telefone", "invalid phone number")
	}
	if !validPostalCode(req.Address.PostalCode) {
		add("endereco.cep", "invalid CEP")
	}
	if len(strings.TrimSpace(req.Address.Street)) < 5 {
		add("endereco.logradouro", "street must have at least 5 characters")
	}
	if !ValidTier(req.Tier) {
		add("tipo_membro", "unknown member tier")
	}
	if strings.TrimSpace(req.PlanID) == "" {
		add("plan_id", "plan is required")
	}
	if !ValidBillingMethod(req.Method) {
		add("payment_method", "unsupported payment method")
	}

	if req.Method == MethodCard {
		errs = append(errs, validateCard(req.Card)...)
	}

	return errs
}

func validateCard(card *CardData) []FieldError {
	if card == nil {
		return []FieldError{{Field: "card_data", Message: "card data is required for card payments"}}
	}

	var errs []FieldError
	add := func(field, message string) {
		errs = append(errs, FieldError{Field: field, Message: message})
	}

	if len(strings.TrimSpace(card.HolderName)) < 2 {
		add("card_data.holder_name", "invalid holder name")
	}
	if !validCardNumber(card.Number) {
		add("card_data.number", "invalid card number")
	}
	if !validMonth(card.ExpiryMonth) {
		add("card_data.expiry_month", "invalid expiry month")
	}
	if !validYear(card.ExpiryYear) {
		add("card_data.expiry_year", "invalid expiry year")
	}
	if n := len(card.CCV); n < 3 || n > 4 || !allDigits(card.CCV) {
		add("card_data.ccv", "invalid CCV")
	}
	return errs
}

// ValidTaxID verifies a Brazilian CPF, including its two mod-11 check digits.
func ValidTaxID(cpf string) bool {
	digits := onlyDigits(cpf)
	if len(digits) != 11 {
		return false
	}
	// All-equal sequences pass the checksum but are not real CPFs.
	same := true
	for i := 1; i < 11; i++ {
		if digits[i] != digits[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}

	for _, pos := range []int{9, 10} {
		sum := 0
		for i := 0; i < pos; i++ {
			sum += int(digits[i]-'0') * (pos + 1 - i)
		}
		check := 11 - sum%11
		if check >= 10 {
			check = 0
		}
		if int(digits[pos]-'0') != check {
			return false
		}
	}
	return true
}

func validPhone(phone string) bool {
	n := len(onlyDigits(phone))
	return n == 10 || n == 11
}

func validPostalCode(cep string) bool {
	return len(onlyDigits(cep)) == 8
}

// validCardNumber applies the Luhn check over 13-19 digits.
func validCardNumber(number string) bool {
	digits := onlyDigits(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validMonth(raw string) bool {
	m, err := strconv.Atoi(raw)
	return err == nil && m >= 1 && m <= 12
}

func validYear(raw string) bool {
	y, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	if y < 100 {
		y += 2000
	}
	return y >= time.Now().Year()
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatErrors joins field errors into a single user-facing message.
func FormatErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.String()
	}
	return fmt.Sprintf("invalid registration data: %s", strings.Join(parts, "; "))
}
