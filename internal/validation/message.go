package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"swarg/internal/models"

	"github.com/go-playground/validator/v10"
)

// MaxContentLength bounds text bodies and media captions, in runes.
const MaxContentLength = 10000

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates a request struct against its `validate` tags.
func Struct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return describe(err)
	}
	return nil
}

// Payload is the type-dependent body of a message.
type Payload struct {
	Type     models.MessageType
	Content  string
	Media    *models.MediaDescriptor
	Location *models.Location
	Contact  *models.ContactCard
}

// ValidatePayload checks that exactly the payload family matching the type is
// populated. Media messages may carry a caption in Content.
func ValidatePayload(p Payload) error {
	if !p.Type.Valid() {
		return fmt.Errorf("unknown message type %q", p.Type)
	}
	if utf8.RuneCountInString(p.Content) > MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", MaxContentLength)
	}

	switch {
	case p.Type == models.MessageTypeText:
		if strings.TrimSpace(p.Content) == "" {
			return errors.New("text message requires content")
		}
		if p.Media != nil || p.Location != nil || p.Contact != nil {
			return errors.New("text message cannot carry structured data")
		}
	case p.Type.IsMedia():
		if p.Media == nil {
			return fmt.Errorf("%s message requires media", p.Type)
		}
		if p.Location != nil || p.Contact != nil {
			return fmt.Errorf("%s message carries mismatched data", p.Type)
		}
		return Struct(p.Media)
	case p.Type == models.MessageTypeLocation:
		if p.Location == nil {
			return errors.New("location message requires a location")
		}
		if p.Media != nil || p.Contact != nil || p.Content != "" {
			return errors.New("location message carries mismatched data")
		}
		return Struct(p.Location)
	case p.Type == models.MessageTypeContact:
		if p.Contact == nil {
			return errors.New("contact message requires a contact")
		}
		if p.Media != nil || p.Location != nil || p.Content != "" {
			return errors.New("contact message carries mismatched data")
		}
		if p.Contact.SwargNumber == "" && p.Contact.UserID == 0 {
			return errors.New("contact requires a swarg number or user id")
		}
		if p.Contact.SwargNumber != "" {
			if err := ValidateSwargNumber(p.Contact.SwargNumber); err != nil {
				return err
			}
		}
		return Struct(p.Contact)
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("field %s failed %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param())
	}
	return fmt.Errorf("field %s failed %s", strings.ToLower(fe.Field()), fe.Tag())
}
