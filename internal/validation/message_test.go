package validation

import (
	"strings"
	"testing"

	"swarg/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayload(t *testing.T) {
	t.Parallel()

	media := &models.MediaDescriptor{URL: "https://cdn.example.com/a.jpg"}

	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"Text", Payload{Type: models.MessageTypeText, Content: "hello"}, false},
		{"Blank Text", Payload{Type: models.MessageTypeText, Content: "  "}, true},
		{"Text With Media", Payload{Type: models.MessageTypeText, Content: "hi", Media: media}, true},
		{"Too Long", Payload{Type: models.MessageTypeText, Content: strings.Repeat("x", MaxContentLength+1)}, true},
		{"Image", Payload{Type: models.MessageTypeImage, Media: media}, false},
		{"Image With Caption", Payload{Type: models.MessageTypeImage, Content: "look", Media: media}, false},
		{"Image Without Media", Payload{Type: models.MessageTypeImage}, true},
		{"Media Bad URL", Payload{Type: models.MessageTypeVideo, Media: &models.MediaDescriptor{URL: "nope"}}, true},
		{"Location", Payload{Type: models.MessageTypeLocation, Location: &models.Location{Latitude: 35.7, Longitude: 51.4}}, false},
		{"Location Out Of Range", Payload{Type: models.MessageTypeLocation, Location: &models.Location{Latitude: 135, Longitude: 51.4}}, true},
		{"Location Missing", Payload{Type: models.MessageTypeLocation}, true},
		{"Contact By User", Payload{Type: models.MessageTypeContact, Contact: &models.ContactCard{Name: "Sara", UserID: 4}}, false},
		{"Contact By Number", Payload{Type: models.MessageTypeContact, Contact: &models.ContactCard{Name: "Sara", SwargNumber: "7712345678"}}, false},
		{"Contact Without Reference", Payload{Type: models.MessageTypeContact, Contact: &models.ContactCard{Name: "Sara"}}, true},
		{"Contact Without Name", Payload{Type: models.MessageTypeContact, Contact: &models.ContactCard{UserID: 4}}, true},
		{"Unknown Type", Payload{Type: "sticker", Content: "x"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStruct_DescribesFirstFailure(t *testing.T) {
	t.Parallel()

	err := Struct(&models.ContactCard{})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "name")
	}
}
