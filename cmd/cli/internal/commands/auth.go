package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/wolfeidau/pipeline-console/internal/authz"
	"github.com/wolfeidau/pipeline-console/internal/models"
)

type LoginCmd struct {
	Username   string `arg:"" help:"Username"`
	Password   string `help:"Password, prompted for when omitted" env:"CONSOLE_PASSWORD"`
	Code       string `help:"MFA verification code, prompted for when required"`
	RememberMe bool   `help:"Request a long lived session"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Auth.Enabled {
		return errAuthDisabled
	}

	password := l.Password
	if password == "" {
		password, err = readSecret("Password: ")
		if errors.Is(err, errNotInteractive) {
			return errors.New("password is required in non-interactive mode (use --password flag or CONSOLE_PASSWORD env var)")
		}
		if err != nil {
			return err
		}
	}

	resp, err := a.ctrl.Login(ctx, models.LoginRequest{
		Username:   l.Username,
		Password:   password,
		RememberMe: l.RememberMe,
	})
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if resp.RequiresMFA {
		code := l.Code
		if code == "" {
			code, err = readSecret("Verification code: ")
			if errors.Is(err, errNotInteractive) {
				fmt.Fprintln(a.out, "Multi-factor verification required.")
				fmt.Fprintf(a.out, "Run: console-cli mfa --mfa-token %s <code>\n", resp.MFAToken)
				return nil
			}
			if err != nil {
				return err
			}
		}

		if _, err := a.ctrl.VerifyMFA(ctx, models.MFAVerifyRequest{
			MFAToken:         resp.MFAToken,
			VerificationCode: code,
		}); err != nil {
			return fmt.Errorf("mfa verification failed: %w", err)
		}
	}

	fmt.Fprintln(a.out, "✓ Login successful!")
	return printSession(a)
}

type MFACmd struct {
	MFAToken string `name:"mfa-token" help:"MFA token printed by login" required:""`
	Code     string `arg:"" help:"Six digit verification code"`
}

func (m *MFACmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Auth.Enabled {
		return errAuthDisabled
	}

	if _, err := a.ctrl.VerifyMFA(ctx, models.MFAVerifyRequest{
		MFAToken:         m.MFAToken,
		VerificationCode: m.Code,
	}); err != nil {
		return fmt.Errorf("mfa verification failed: %w", err)
	}

	fmt.Fprintln(a.out, "✓ Login successful!")
	return printSession(a)
}

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.ctrl.Logout(ctx)
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

type WhoamiCmd struct {
	Fetch bool `help:"Fetch the profile from the server instead of using the stored token"`
}

func (w *WhoamiCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(); err != nil {
		return err
	}

	if w.Fetch {
		if _, err := a.ctrl.Profile(ctx); err != nil {
			return fmt.Errorf("failed to fetch profile: %w", err)
		}
	}

	return printSession(a)
}

type RefreshCmd struct{}

func (r *RefreshCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(); err != nil {
		return err
	}

	if err := a.ctrl.RefreshToken(ctx); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	expiry, _ := a.ctrl.Store().Expiry()
	fmt.Fprintf(a.out, "Token refreshed, expires %s\n", expiry.Local().Format(time.RFC3339))
	return nil
}

type TokenCmd struct {
	JSON bool `help:"Print the full token as JSON"`
}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tok, err := a.ctrl.TokenSource(ctx).Token()
	if err != nil {
		return fmt.Errorf("no token available: %w", err)
	}

	if t.JSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(tok)
	}

	fmt.Fprintln(a.out, tok.AccessToken)
	return nil
}

type CanCmd struct {
	Permission string `arg:"" help:"Permission such as pipelines:run"`
}

func (c *CanCmd) Run(ctx context.Context, globals *Globals) error {
	perm, err := authz.ParsePermission(c.Permission)
	if err != nil {
		return err
	}

	a, err := globals.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.requireSession(); err != nil {
		return err
	}

	if !a.ctrl.CheckPermission(perm) {
		return fmt.Errorf("%w: %s", errPermissionDenied, perm)
	}

	fmt.Fprintf(a.out, "allowed: %s\n", perm)
	return nil
}

func printSession(a *app) error {
	s, err := a.requireSession()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "User:\t%s\n", s.User.Username)
	fmt.Fprintf(w, "Name:\t%s\n", s.User.DisplayName())
	fmt.Fprintf(w, "Email:\t%s\n", s.User.Email)
	fmt.Fprintf(w, "Role:\t%s\n", s.User.Role)
	if expiry, ok := a.ctrl.Store().Expiry(); ok {
		fmt.Fprintf(w, "Expires:\t%s\n", expiry.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Permissions:\t%s\n", strings.Join(s.Permissions.Strings(), ", "))

	return w.Flush()
}
