// Command seed fills the database with demo users, groups and messages.
package main

import (
	"context"
	"flag"
	"log"

	"swarg/internal/config"
	"swarg/internal/database"
	"swarg/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	numUsers := flag.Int("users", defaults.NumUsers, "Number of users to create")
	numGroups := flag.Int("groups", defaults.NumGroups, "Number of groups to create")
	groupSize := flag.Int("group-size", defaults.GroupSize, "Members per group, creator included")
	contacts := flag.Int("contacts", defaults.ContactsPerUser, "Contacts added per user")
	messages := flag.Int("messages", defaults.MessagesPerConversation, "Messages per conversation")
	readPct := flag.Int("read", defaults.ReadPercent, "Percent of messages marked read")
	seedVal := flag.Int64("seed", 0, "Random seed, 0 for a random one")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Printf("Seeding %d users, %d groups, clean=%v", *numUsers, *numGroups, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db)

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	res, err := s.Run(ctx, seed.Options{
		NumUsers:                *numUsers,
		NumGroups:               *numGroups,
		GroupSize:               *groupSize,
		ContactsPerUser:         *contacts,
		MessagesPerConversation: *messages,
		ReadPercent:             *readPct,
		Seed:                    *seedVal,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Done: %d users, %d groups, %d messages", len(res.Users), len(res.Groups), res.Messages)
	for _, u := range res.Users[:min(3, len(res.Users))] {
		log.Printf("  %s  number=%s", u.Username, u.SwargNumber)
	}
}
