package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/config"
	"github.com/tonimelisma/firefly-go/internal/credfile"
	"github.com/tonimelisma/firefly-go/internal/firefly"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Register this device with your school's Firefly portal",
		Long: `Resolve the school code to its portal, open the device login page,
and save the secret the portal issues for this device.

The school code comes from --school, FIREFLY_GO_SCHOOL, or account.school_code.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials and the local task cache",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}

	cmd.Flags().String("picture", "", "save the profile picture to this path")
	cmd.Flags().String("picture-size", firefly.PictureMedium, "small, medium or large")

	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	acct := cc.Cfg.Account

	if acct.SchoolCode == "" {
		return errors.New("no school code: pass --school or set account.school_code")
	}

	cc.Logger.Info("login started", slog.String("school_code", acct.SchoolCode))

	if acct.Hostname == "" {
		hostname, err := newFireflyClient(cc, "", nil).
			LookupHostname(ctx, cc.Cfg.Network.GatewayURL, acct.SchoolCode)
		if err != nil {
			return fmt.Errorf("looking up school %q: %w", acct.SchoolCode, err)
		}

		acct.Hostname = hostname
	}

	if acct.DeviceID == "" {
		acct.DeviceID = uuid.NewString()
	}

	// The login prompt must always be visible, so it ignores --quiet.
	fmt.Fprintf(os.Stderr, "To sign in, visit:\n  %s\n", firefly.TokenURL(acct.Hostname, acct.DeviceID))
	fmt.Fprint(os.Stderr, "Paste the secret shown after signing in: ")

	secret, err := readSecret(cc.Stdin)
	if err != nil {
		return err
	}

	creds, err := completeLogin(ctx, cc, acct, secret)
	if err != nil {
		return err
	}

	if err := config.SaveAccount(cc.Cfg.Path, acct); err != nil {
		return fmt.Errorf("saving account: %w", err)
	}

	cc.Logger.Info("login successful", slog.String("hostname", acct.Hostname))
	cc.Statusf("Logged in as %s (%s).\n", creds.User.Name, creds.User.Username)

	return nil
}

// completeLogin verifies secret against the portal, fetches the user, and
// saves the credentials file.
func completeLogin(ctx context.Context, cc *CLIContext, acct config.AccountConfig, secret string) (*credfile.File, error) {
	creds := &credfile.File{
		DeviceID: acct.DeviceID,
		Secret:   secret,
		Hostname: acct.Hostname,
	}

	client := newFireflyClient(cc, acct.Hostname, creds)

	valid, err := client.VerifyToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying secret: %w", err)
	}

	if !valid {
		return nil, errors.New("the portal rejected the secret, run 'firefly-go login' again")
	}

	user, err := client.UserData(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	creds.User = user

	if err := credfile.Save(cc.CredentialsPath, creds); err != nil {
		return nil, err
	}

	return creds, nil
}

// readSecret reads one trimmed line from r.
func readSecret(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}

		return "", errors.New("no secret entered")
	}

	secret := strings.TrimSpace(sc.Text())
	if secret == "" {
		return "", errors.New("no secret entered")
	}

	return secret, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cc.Logger.Info("logout started")

	if err := credfile.Remove(cc.CredentialsPath); err != nil {
		return err
	}

	if err := resetCache(cmd.Context(), cc); err != nil {
		return err
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	GUID     string `json:"guid"`
	Hostname string `json:"hostname"`
	Valid    bool   `json:"valid"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	creds, err := credfile.Load(cc.CredentialsPath)
	if err != nil {
		return err
	}

	if creds == nil {
		return errNotLoggedIn
	}

	client := newFireflyClient(cc, creds.Hostname, creds)
	client.SetRecipient(creds.User)

	valid, err := client.VerifyToken(cmd.Context())
	if err != nil {
		return fmt.Errorf("verifying credentials: %w", err)
	}

	if path, _ := cmd.Flags().GetString("picture"); path != "" && valid {
		size, _ := cmd.Flags().GetString("picture-size")
		if err := saveProfilePicture(cmd.Context(), client, size, path); err != nil {
			return err
		}
	}

	out := whoamiOutput{
		Name:     creds.User.Name,
		Username: creds.User.Username,
		GUID:     creds.User.GUID,
		Hostname: creds.Hostname,
		Valid:    valid,
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, out)
	}

	printWhoamiText(cc.Stdout, out)

	return nil
}

func saveProfilePicture(ctx context.Context, client *firefly.Client, size, path string) error {
	switch size {
	case firefly.PictureSmall, firefly.PictureMedium, firefly.PictureLarge:
	default:
		return fmt.Errorf("--picture-size: want small, medium or large, got %q", size)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := client.ProfilePicture(ctx, size, f); err != nil {
		f.Close()
		os.Remove(path)

		return fmt.Errorf("saving profile picture: %w", err)
	}

	return f.Close()
}

func printWhoamiText(w io.Writer, out whoamiOutput) {
	state := "valid"
	if !out.Valid {
		state = "expired (run 'firefly-go login')"
	}

	fmt.Fprintf(w, "User:     %s (%s)\n", out.Name, out.Username)
	fmt.Fprintf(w, "Portal:   %s\n", out.Hostname)
	fmt.Fprintf(w, "Session:  %s\n", state)
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
