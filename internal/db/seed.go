package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedTestData resets the database and populates it with demo users,
// slots, matches and one in-flight connection.
//
// Behavior:
//  1. Clears all protocol tables.
//  2. Creates 10 users (8 free, 2 premium) with hashed passwords and
//     their slot rows.
//  3. Creates a pending match, a half-accepted match with a waiting
//     slot, and an active connection on day 5 with resolved handshake
//     history and a short conversation.
//
// Compatible with both MySQL and SQLite (AUTO_INCREMENT reset skipped
// for SQLite).
func SeedTestData(db *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	// --- Fresh start ---
	tables := []string{"messages", "daily_handshakes", "connections", "matches", "connection_slots", "users"}
	for _, table := range tables {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		for _, table := range tables {
			db.Exec("ALTER TABLE " + table + " AUTO_INCREMENT = 1")
		}
	case "sqlite":
		for _, table := range tables {
			db.Exec("DELETE FROM sqlite_sequence WHERE name = ?", table)
		}
	}

	log.Println("Cleared existing data")

	// --- Seed Users ---
	for i := 1; i <= 10; i++ {
		username := fmt.Sprintf("user%d", i)
		email := fmt.Sprintf("user%d@example.com", i)

		hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		gender := "male"
		seeking := "women"
		if i > 5 {
			gender = "female"
			seeking = "men"
		}

		tier := TierFree
		if i == 1 || i == 6 {
			tier = TierPremium
		}

		user := User{
			Username:     username,
			Email:        email,
			PasswordHash: string(hash),
			Verified:     true,
			Gender:       gender,
			Seeking:      seeking,
			City:         "London",
			Country:      "UK",
			Tier:         tier,
		}
		if err := db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}

		// slot rows: indexes beyond the tier capacity are locked
		for idx := 1; idx <= PremiumSlots; idx++ {
			status := SlotEmpty
			if idx > user.SlotCapacity() {
				status = SlotLocked
			}
			slot := ConnectionSlot{UserID: user.ID, Idx: idx, Status: status}
			if err := db.Create(&slot).Error; err != nil {
				return fmt.Errorf("failed to seed slot: %w", err)
			}
		}
	}
	log.Println("Seeded 10 users with slots.")

	// --- Pending match: user2 <-> user7 ---
	pending := Match{
		UserAID:   2,
		UserBID:   7,
		Score:     70 + r.Intn(25),
		Status:    MatchPending,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_ = pending.SetReasons([]string{"Shared foundation values", "Compatible life pace"})
	if err := db.Create(&pending).Error; err != nil {
		return fmt.Errorf("failed to seed pending match: %w", err)
	}

	// --- Half-accepted match: user3 accepted, user8 undecided ---
	accepted := true
	half := Match{
		UserAID:   3,
		UserBID:   8,
		Score:     81,
		Status:    MatchPending,
		ResponseA: &accepted,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	_ = half.SetReasons([]string{"Aligned on honesty", "Same city"})
	if err := db.Create(&half).Error; err != nil {
		return fmt.Errorf("failed to seed half-accepted match: %w", err)
	}
	if err := db.Model(&ConnectionSlot{}).
		Where("user_id = ? AND idx = 1", uint64(3)).
		Updates(map[string]any{"status": SlotWaiting, "match_id": half.ID}).Error; err != nil {
		return fmt.Errorf("failed to reserve seed slot: %w", err)
	}

	// --- Active connection on day 5: user1 <-> user6 ---
	day5 := Match{
		UserAID:   1,
		UserBID:   6,
		Score:     92,
		Status:    MatchAccepted,
		ResponseA: &accepted,
		ResponseB: &accepted,
		ExpiresAt: time.Now().Add(-4 * 24 * time.Hour),
	}
	_ = day5.SetReasons([]string{"Deep resonance on family", "Shared moral compass"})
	if err := db.Create(&day5).Error; err != nil {
		return fmt.Errorf("failed to seed accepted match: %w", err)
	}

	started := time.Now().Add(-4 * 24 * time.Hour)
	conn := Connection{
		MatchID:         day5.ID,
		UserAID:         1,
		UserBID:         6,
		CurrentDay:      5,
		Status:          ConnectionActive,
		StartedAt:       started,
		LastHandshakeAt: time.Now().Add(-20 * time.Hour),
	}
	if err := db.Create(&conn).Error; err != nil {
		return fmt.Errorf("failed to seed connection: %w", err)
	}

	for _, uid := range []uint64{1, 6} {
		if err := db.Model(&ConnectionSlot{}).
			Where("user_id = ? AND idx = 1", uid).
			Updates(map[string]any{"status": SlotActive, "connection_id": conn.ID}).Error; err != nil {
			return fmt.Errorf("failed to bind seed slot: %w", err)
		}
	}

	// resolved handshake history for days 1-4
	for day := 1; day <= 4; day++ {
		windowOpen := started.Add(time.Duration(day) * 24 * time.Hour)
		hs := DailyHandshake{
			ConnectionID: conn.ID,
			Day:          day,
			ResponseA:    &accepted,
			ResponseB:    &accepted,
			Deadline:     windowOpen.Add(3 * time.Hour),
			Resolved:     true,
			Outcome:      OutcomeContinued,
		}
		if err := db.Create(&hs).Error; err != nil {
			return fmt.Errorf("failed to seed handshake: %w", err)
		}
	}

	messages := []Message{
		{ConnectionID: conn.ID, SenderID: 0, Kind: MessageSystem, Content: "Connection established. Day 1 of 21 begins.", Read: true},
		{ConnectionID: conn.ID, SenderID: 0, Kind: MessageAIPrompt, Content: "You both value honesty above comfort. What does that look like in practice?", Read: true},
		{ConnectionID: conn.ID, SenderID: 1, Kind: MessageText, Content: "For me it means saying the hard thing early.", Read: true},
		{ConnectionID: conn.ID, SenderID: 6, Kind: MessageText, Content: "Same. Silence always costs more later.", Read: false},
	}
	for i := range messages {
		if err := db.Create(&messages[i]).Error; err != nil {
			return fmt.Errorf("failed to seed message: %w", err)
		}
	}

	log.Println("Seeded matches, connection and conversation.")
	return nil
}
