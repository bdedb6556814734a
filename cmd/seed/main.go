package main

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/gearshare/backend/internal/database"
	"github.com/Wikid82/gearshare/backend/internal/models"
)

type seedUser struct {
	email string
	name  string
	roles []string
}

func main() {
	dbPath := os.Getenv("GEARSHARE_DB_PATH")
	if dbPath == "" {
		dbPath = "./data/gearshare.db"
	}
	password := os.Getenv("GEARSHARE_SEED_PASSWORD")
	if password == "" {
		password = "changeme123"
	}

	// Connect to database
	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	users := []seedUser{
		{"admin@gearshare.local", "Marketplace Admin", []string{models.RoleAdmin, models.RoleRenter}},
		{"owner@gearshare.local", "Camera Owner", []string{models.RoleOwner, models.RoleRenter}},
		{"renter@gearshare.local", "Weekend Renter", []string{models.RoleRenter}},
	}
	for _, su := range users {
		user, created, err := ensureUser(db, su, password)
		if err != nil {
			log.Fatalf("Failed to seed user %s: %v", su.email, err)
		}
		for _, role := range su.roles {
			ur := models.UserRole{UserUUID: user.UUID, Role: role, AssignedBy: "seed"}
			if err := db.Where(models.UserRole{UserUUID: user.UUID, Role: role}).FirstOrCreate(&ur).Error; err != nil {
				log.Fatalf("Failed to assign role %s to %s: %v", role, su.email, err)
			}
		}
		if created {
			fmt.Printf("✓ Created user: %s %v\n", su.email, su.roles)
		} else {
			fmt.Printf("  User already exists: %s\n", su.email)
		}
	}

	// Seed a disabled alert provider so the wiring is visible in the UI
	provider := models.NotificationProvider{
		Name:    "Ops webhook",
		Type:    "generic",
		URL:     "generic://ops.gearshare.local/hooks/security",
		Enabled: false,
	}
	if err := db.Where(models.NotificationProvider{Name: provider.Name}).FirstOrCreate(&provider).Error; err != nil {
		log.Fatal("Failed to seed notification provider:", err)
	}
	fmt.Printf("✓ Notification provider: %s\n", provider.Name)

	fmt.Println("\n✓ Database seeding completed successfully!")
}

func ensureUser(db *gorm.DB, su seedUser, password string) (*models.User, bool, error) {
	var user models.User
	err := db.Where("email = ?", su.email).First(&user).Error
	if err == nil {
		return &user, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	user = models.User{UUID: uuid.NewString(), Email: su.email, Name: su.name, Enabled: true}
	if err := user.SetPassword(password); err != nil {
		return nil, false, err
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, false, err
	}
	return &user, true, nil
}
