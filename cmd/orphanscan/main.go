package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"agentpool/clients/anthropickeys"
	"agentpool/clients/compute"
	"agentpool/clients/mailbox"
	"agentpool/clients/phonenumbers"
	"agentpool/config"
	"agentpool/db"
	"agentpool/models"
	"agentpool/services/lifecycle"
	"agentpool/services/orphans"
	"agentpool/services/phonepool"
)

// orphanscan cross-references each resource provider's live inventory against
// the store and the compute provider, then deletes confirmed orphans. Run it
// after incidents or suspected partial teardowns.
func main() {
	dryRun := flag.Bool("dry-run", false, "report orphans without deleting anything")
	autoApprove := flag.Bool("auto-approve", false, "delete without interactive confirmation")
	flag.Parse()

	log.Printf("🔍 Starting orphan scan...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer dbConn.Close()

	resourcesRepo := db.NewPostgresResourcesRepository(dbConn, cfg.DatabaseSchema)
	phoneNumbersRepo := db.NewPostgresPhoneNumbersRepository(dbConn, cfg.DatabaseSchema)

	providers := lifecycle.ProviderRegistry{}
	if cfg.CredentialConfig.IsConfigured() {
		providers[models.ToolKindCredential] = anthropickeys.NewClient(
			cfg.CredentialConfig.AdminAPIKey, cfg.CredentialConfig.WorkspaceID)
	}
	if cfg.MailboxConfig.IsConfigured() {
		providers[models.ToolKindMailbox] = mailbox.NewClient(
			mailbox.DefaultBaseURL, cfg.MailboxConfig.APIToken, cfg.MailboxConfig.Domain)
	}
	if cfg.PhoneConfig.IsConfigured() {
		phoneClient := phonenumbers.NewClient(
			phonenumbers.DefaultBaseURL,
			cfg.PhoneConfig.AccountSID,
			cfg.PhoneConfig.AuthToken,
			cfg.PhoneConfig.MessagingProfileID,
		)
		providers[models.ToolKindPhone] = phonepool.NewPhoneProvider(phoneClient, phoneNumbersRepo)
	}
	if len(providers) == 0 {
		log.Fatalf("❌ No resource providers configured, nothing to scan")
	}

	computeClient := compute.NewComputeClient(cfg.ComputeConfig.APIBaseURL, cfg.ComputeConfig.APIToken)
	scanner := orphans.NewScanner(providers, resourcesRepo, computeClient)

	ctx := context.Background()
	reports, err := scanner.Scan(ctx)
	if err != nil {
		log.Fatalf("❌ Orphan scan failed: %v", err)
	}

	total := 0
	for _, report := range reports {
		if len(report.Resources) == 0 {
			log.Printf("✅ No orphaned %s resources", report.Kind)
			continue
		}
		log.Printf("⚠️ Found %d orphaned %s resources:", len(report.Resources), report.Kind)
		for _, resource := range report.Resources {
			log.Printf("   - %s (%s)", resource.ResourceID, resource.Name)
		}
		total += len(report.Resources)
	}

	if total == 0 {
		log.Printf("✅ No orphans found, nothing to do")
		return
	}
	if *dryRun {
		log.Printf("📋 Dry run - leaving %d orphans in place", total)
		return
	}

	if !*autoApprove && !confirm(total) {
		log.Printf("🛑 Aborted, nothing deleted")
		return
	}

	deleted, err := scanner.Delete(ctx, reports)
	if err != nil {
		log.Fatalf("❌ Orphan deletion failed: %v", err)
	}

	log.Printf("✅ Orphan scan completed - deleted %d/%d resources", deleted, total)
	if deleted < total {
		os.Exit(1)
	}
}

func confirm(total int) bool {
	log.Printf("❓ Delete %d orphaned resources? Type 'yes' to confirm:", total)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
