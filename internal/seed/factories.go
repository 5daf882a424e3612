package seed

import (
	"fmt"
	"regexp"
	"strings"

	"swarg/internal/models"
	"swarg/internal/service"

	"github.com/brianvoe/gofakeit/v6"
)

var nonUsernameChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Factory builds service inputs populated with fake but plausible content.
// Persistence goes through the services so seeded rows obey the same rules
// as live traffic.
type Factory struct {
	faker *gofakeit.Faker
	seq   int
}

// NewFactory returns a Factory. A zero seed picks a random one.
func NewFactory(seed int64) *Factory {
	return &Factory{faker: gofakeit.New(seed)}
}

// User returns registration input with a unique, valid username.
func (f *Factory) User() service.RegisterUserInput {
	f.seq++
	first, last := f.faker.FirstName(), f.faker.LastName()

	base := nonUsernameChars.ReplaceAllString(strings.ToLower(first+"_"+last), "")
	if len(base) > 20 {
		base = base[:20]
	}
	return service.RegisterUserInput{
		Username:    fmt.Sprintf("%s_%d", base, f.seq),
		DisplayName: first + " " + last,
		About:       f.faker.HipsterSentence(6),
	}
}

// Group returns input for a group created by creator with the given members.
func (f *Factory) Group(creator uint, members []uint) service.CreateGroupInput {
	return service.CreateGroupInput{
		CreatorID:   creator,
		Name:        strings.TrimSpace(f.faker.BuzzWord() + " " + f.faker.Noun()),
		Description: f.faker.Sentence(8),
		MemberIDs:   members,
	}
}

// Message returns a message from sender to to. Most messages are text; the
// rest exercise the structured payload kinds.
func (f *Factory) Message(sender uint, to models.Receiver) service.CreateMessageInput {
	in := service.CreateMessageInput{SenderID: sender, Receiver: to}

	switch n := f.faker.Number(1, 20); {
	case n <= 15:
		in.Type = models.MessageTypeText
		in.Content = f.faker.Sentence(f.faker.Number(2, 14))
	case n <= 17:
		in.Type = models.MessageTypeImage
		in.Content = f.faker.Phrase()
		in.Media = &models.MediaDescriptor{
			URL:      fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.faker.UUID()),
			MimeType: "image/jpeg",
			Size:     int64(f.faker.Number(20_000, 2_000_000)),
		}
	case n <= 19:
		in.Type = models.MessageTypeLocation
		in.Location = &models.Location{
			Latitude:  f.faker.Latitude(),
			Longitude: f.faker.Longitude(),
			Address:   f.faker.Street() + ", " + f.faker.City(),
		}
	default:
		// Senders share their own card.
		in.Type = models.MessageTypeContact
		in.Contact = &models.ContactCard{Name: f.faker.Name(), UserID: sender}
	}
	return in
}

// Pick returns n distinct ids from ids, excluding skip.
func (f *Factory) Pick(ids []uint, n int, skip uint) []uint {
	pool := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != skip {
			pool = append(pool, id)
		}
	}
	f.faker.ShuffleAnySlice(pool)
	n = max(0, min(n, len(pool)))
	return pool[:n]
}

// Chance reports true with probability percent/100.
func (f *Factory) Chance(percent int) bool {
	return f.faker.Number(1, 100) <= percent
}
