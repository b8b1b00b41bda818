package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/stiffinWanjohi/courier/internal/app"
	"github.com/stiffinWanjohi/courier/internal/config"
	"github.com/stiffinWanjohi/courier/internal/dedup"
	"github.com/stiffinWanjohi/courier/internal/domain"
	"github.com/stiffinWanjohi/courier/internal/jobstore"
	"github.com/stiffinWanjohi/courier/internal/webex"
)

type enqueueOptions struct {
	room     string
	email    string
	markdown string
	text     string
	card     string
	cardFile string
	report   string
	key      string
}

func cmdEnqueue(args []string) error {
	var opts enqueueOptions
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	fs.StringVar(&opts.room, "room", "", "Webex room id")
	fs.StringVar(&opts.email, "email", "", "Recipient email (direct message)")
	fs.StringVar(&opts.markdown, "markdown", "", "Markdown body")
	fs.StringVar(&opts.text, "text", "", "Plain text body")
	fs.StringVar(&opts.card, "card", "", "Adaptive card JSON")
	fs.StringVar(&opts.cardFile, "card-file", "", "Path to an adaptive card JSON file")
	fs.StringVar(&opts.report, "report", "", "Report id the job belongs to")
	fs.StringVar(&opts.key, "key", "", "Idempotency key; repeats return the existing job")
	_ = fs.Parse(args)

	job, err := opts.job()
	if err != nil {
		return err
	}

	cards, err := webex.NewCardValidator()
	if err != nil {
		return err
	}
	if _, err := webex.BuildMessage(job, cards); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	services, err := app.InitDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer services.Close(ctx)
	store := jobstore.NewStore(services.Pool)

	if opts.key == "" {
		return createJob(ctx, store, job)
	}

	rdb, err := app.ConnectRedis(ctx, cfg)
	if err != nil {
		return err
	}
	services.Redis = rdb
	checker := dedup.NewChecker(rdb)

	existing, err := checker.CheckAndSet(ctx, opts.key, job.ID)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if existing != uuid.Nil {
		fmt.Printf("  %s job already queued for key %s\n", yellow("!"), bold(opts.key))
		printField("ID:", existing.String())
		return nil
	}

	if err := createJob(ctx, store, job); err != nil {
		_ = checker.Release(ctx, opts.key)
		return err
	}
	return nil
}

func createJob(ctx context.Context, store *jobstore.Store, job domain.DeliveryJob) error {
	created, err := store.Create(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	fmt.Printf("  %s job queued\n", success("✓"))
	printField("ID:         ", created.ID.String())
	printField("Destination:", created.Destination)
	printField("Status:     ", string(created.Status))
	return nil
}

func (o enqueueOptions) job() (domain.DeliveryJob, error) {
	var dest string
	switch {
	case o.room != "" && o.email != "":
		return domain.DeliveryJob{}, errors.New("use either --room or --email, not both")
	case o.room != "":
		dest = o.room
	case o.email != "":
		dest = o.email
	default:
		return domain.DeliveryJob{}, errors.New("--room or --email is required")
	}

	if o.cardFile != "" {
		data, err := os.ReadFile(o.cardFile)
		if err != nil {
			return domain.DeliveryJob{}, fmt.Errorf("failed to read card: %w", err)
		}
		o.card = string(data)
	}

	var (
		contentType domain.ContentType
		content     string
		set         int
	)
	if o.markdown != "" {
		contentType, content = domain.ContentTypeMarkdown, o.markdown
		set++
	}
	if o.text != "" {
		contentType, content = domain.ContentTypeText, o.text
		set++
	}
	if o.card != "" {
		contentType, content = domain.ContentTypeAdaptiveCard, o.card
		set++
	}
	if set != 1 {
		return domain.DeliveryJob{}, errors.New("exactly one of --markdown, --text, --card or --card-file is required")
	}

	job := domain.NewDeliveryJob(domain.DeliveryMethodWebex, dest, contentType, content)
	if o.report != "" {
		reportID, err := uuid.Parse(o.report)
		if err != nil {
			return domain.DeliveryJob{}, fmt.Errorf("invalid --report: %w", err)
		}
		job = job.WithReport(reportID)
	}
	return job, nil
}
