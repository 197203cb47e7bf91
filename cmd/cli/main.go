package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/app"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/config"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/core/domain"
)

const usage = "expected 'export', 'rebuild-stats', 'expire', 'review' or 'add-account' subcommands"

// Dump is the export document
type Dump struct {
	Clicks  []domain.ReferralClick  `json:"clicks"`
	Signups []domain.ReferralSignup `json:"signups"`
}

var errUsage = errors.New(usage)

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg := config.Load()
	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	if err := run(context.Background(), a, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Println(err)
		} else {
			a.Logger.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		}
		a.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "export":
		fs := flag.NewFlagSet("export", flag.ExitOnError)
		fs.Parse(rest)
		return doExport(ctx, a, out)
	case "rebuild-stats":
		fs := flag.NewFlagSet("rebuild-stats", flag.ExitOnError)
		user := fs.Int64("user", 0, "rebuild a single user; 0 rebuilds every referrer")
		fs.Parse(rest)
		return doRebuild(ctx, a, *user)
	case "expire":
		fs := flag.NewFlagSet("expire", flag.ExitOnError)
		fs.Parse(rest)
		n, err := a.Service.ExpireClicks(ctx)
		if err != nil {
			return err
		}
		a.Logger.Info("expired clicks", zap.Int64("count", n))
		return nil
	case "review":
		fs := flag.NewFlagSet("review", flag.ExitOnError)
		signup := fs.Int64("signup", 0, "signup id to review")
		approve := fs.Bool("approve", false, "approve the signup")
		reject := fs.Bool("reject", false, "reject the signup")
		notes := fs.String("notes", "", "reviewer notes")
		fs.Parse(rest)
		if *signup == 0 || *approve == *reject {
			fs.PrintDefaults()
			return fmt.Errorf("%w: review needs -signup and exactly one of -approve or -reject", errUsage)
		}
		return doReview(ctx, a, *signup, *approve, *notes)
	case "add-account":
		fs := flag.NewFlagSet("add-account", flag.ExitOnError)
		username := fs.String("username", "", "account username")
		email := fs.String("email", "", "login email")
		code := fs.String("code", "", "referral code")
		fs.Parse(rest)
		if *username == "" || *code == "" {
			fs.PrintDefaults()
			return fmt.Errorf("%w: add-account needs -username and -code", errUsage)
		}
		acc := &domain.Account{Username: *username, Email: *email, ReferralCode: *code}
		if err := a.Repo.CreateAccount(ctx, acc); err != nil {
			return err
		}
		a.Logger.Info("created account", zap.Int64("id", acc.ID), zap.String("referral_code", acc.ReferralCode))
		return nil
	default:
		return errUsage
	}
}

func doExport(ctx context.Context, a *app.App, out io.Writer) error {
	clicks, err := a.Repo.DumpClicks(ctx)
	if err != nil {
		return err
	}
	signups, err := a.Repo.DumpSignups(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(Dump{Clicks: clicks, Signups: signups})
}

func doRebuild(ctx context.Context, a *app.App, userID int64) error {
	if userID != 0 {
		stats, err := a.Service.RebuildStats(ctx, userID)
		if err != nil {
			return err
		}
		a.Logger.Info("rebuilt stats",
			zap.Int64("user_id", userID),
			zap.Int64("clicks", stats.TotalClicks),
			zap.Int64("signups", stats.TotalSignups),
		)
		return nil
	}
	n, err := a.Service.RebuildAllStats(ctx)
	a.Logger.Info("rebuilt stats", zap.Int("referrers", n))
	return err
}

func doReview(ctx context.Context, a *app.App, signupID int64, approve bool, notes string) error {
	signup, err := a.Service.ReviewSignup(ctx, signupID, approve, notes)
	if err != nil {
		return err
	}
	a.Logger.Info("reviewed signup",
		zap.Int64("signup_id", signup.ID),
		zap.String("status", string(signup.Status)),
		zap.Int64("reward", signup.TotalReward),
	)
	return nil
}
