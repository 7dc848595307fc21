package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrNotFound = errors.New("contact not found")

// Contact is one address-book record. Only Name is required.
type Contact struct {
	ID        int       `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Email     string    `json:"email" validate:"omitempty,email"`
	Phone     string    `json:"phone" validate:"omitempty,phone10"`
	Address   string    `json:"address"`
	Company   string    `json:"company"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c Contact) String() string {
	return fmt.Sprintf("Contact #%d %q", c.ID, c.Name)
}

// Fields is a partial update keyed by json field name.
// Empty values are applied as-is (clearing a field is allowed).
type Fields map[string]string

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// at least ten digits once separators are stripped
	v.RegisterValidation("phone10", func(fl validator.FieldLevel) bool {
		return digitCount(fl.Field().String()) >= 10
	})
	return v
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Validate checks a contact before it is stored.
// Errors are phrased for the UI, not for the log.
func (c Contact) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "Name":
			return errors.New("name cannot be empty")
		case "Email":
			return errors.New("invalid email format")
		case "Phone":
			return errors.New("invalid phone number format")
		}
	}
	return err
}

func (c Contact) matches(q string) bool {
	q = strings.ToLower(q)
	for _, s := range []string{c.Name, c.Email, c.Phone, c.Company, c.Notes} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}
