package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cosplatform/eventcore/internal/config"
	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/services"
	"github.com/joho/godotenv"
)

// Imports a member roster workbook into a community on behalf of an operator.
//
//	go run ./scripts/import_members -file roster.xlsx -community 3 -actor admin
func main() {
	file := flag.String("file", "", "path to the roster .xlsx")
	communityID := flag.Uint("community", 0, "target community id")
	actorName := flag.String("actor", "", "username of the operator running the import")
	flag.Parse()

	if *file == "" || *communityID == 0 || *actorName == "" {
		flag.Usage()
		os.Exit(2)
	}

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("failed to connect database:", err)
	}

	svc := services.New(db, services.Options{TicketSecret: cfg.TicketSecret}, nil)
	ctx := context.Background()

	actor, err := svc.Store.Users.GetUserByUsername(ctx, *actorName)
	if err != nil {
		log.Fatal("unknown operator:", err)
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	report, err := svc.Sheets.ImportRoster(ctx, actor, uint(*communityID), f)
	if err != nil {
		log.Fatal("import failed:", err)
	}

	for _, line := range report.Skipped {
		fmt.Printf("Skipped: %s\n", line)
	}
	fmt.Printf("Created %d users, %d new memberships.\n", report.Created, report.Joined)
}
