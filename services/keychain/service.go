package keychain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"statuswatch-backend/lib/scrapers/vantage"
	"statuswatch-backend/lib/telemetry"
	"statuswatch-backend/lib/timezone"
	"statuswatch-backend/services/keychain/db"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = telemetry.Tracer("statuswatch.services.keychain")

var (
	ErrNoCredential = errors.New("no credential stored under that name")
	ErrHandleSpent  = errors.New("credential handle already redeemed")
)

const apiTokenLength = 40

// Service stores portal credentials and the api tokens that guard the
// query surface. Secrets live in sqlite only; everything outside this
// package works with names and single use handles.
type Service struct {
	db  *sql.DB
	qry *db.Queries
}

func NewService(database *sql.DB) Service {
	return Service{
		db:  database,
		qry: db.New(database),
	}
}

type CredentialInfo struct {
	Name      string `json:"name"`
	Username  string `json:"username"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s Service) SetCredential(ctx context.Context, name, username, password string) error {
	ctx, span := tracer.Start(ctx, "SetCredential", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("credential name cannot be empty")
	}
	if username == "" || password == "" {
		return fmt.Errorf("credential %q needs both a username and a password", name)
	}

	err := s.qry.UpsertCredential(ctx, db.UpsertCredentialParams{
		Name:      name,
		Username:  username,
		Password:  password,
		UpdatedAt: timezone.Now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert credential")
		return err
	}
	return nil
}

func (s Service) DeleteCredential(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "DeleteCredential", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	err := s.qry.DeleteCredential(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete credential")
		return err
	}
	return nil
}

// ListCredentials reports what is stored without ever reading the
// secret column.
func (s Service) ListCredentials(ctx context.Context) ([]CredentialInfo, error) {
	ctx, span := tracer.Start(ctx, "ListCredentials")
	defer span.End()

	rows, err := s.qry.ListCredentials(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list credentials")
		return nil, err
	}
	out := make([]CredentialInfo, len(rows))
	for i, row := range rows {
		out[i] = CredentialInfo{
			Name:      row.Name,
			Username:  row.Username,
			UpdatedAt: row.UpdatedAt,
		}
	}
	return out, nil
}

// CredentialHandle checks the credential exists and returns a single
// use claim on it. The secret itself is only read at redeem time.
func (s Service) CredentialHandle(ctx context.Context, name string) (*Handle, error) {
	ctx, span := tracer.Start(ctx, "CredentialHandle", trace.WithAttributes(
		attribute.String("name", name),
	))
	defer span.End()

	_, err := s.qry.GetCredential(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get credential")
		return nil, err
	}
	return &Handle{svc: s, name: name}, nil
}

// Handle is a single use claim on a stored credential. The login step
// redeems it at the moment it needs the secret, so nothing upstream
// holds a password between attempts.
type Handle struct {
	svc      Service
	name     string
	redeemed atomic.Bool
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Redeem(ctx context.Context) (vantage.Credential, error) {
	if h.redeemed.Swap(true) {
		return vantage.Credential{}, ErrHandleSpent
	}
	row, err := h.svc.qry.GetCredential(ctx, h.name)
	if errors.Is(err, sql.ErrNoRows) {
		return vantage.Credential{}, ErrNoCredential
	}
	if err != nil {
		return vantage.Credential{}, fmt.Errorf("redeem credential %q: %w", h.name, err)
	}
	return vantage.Credential{
		Username: row.Username,
		Password: row.Password,
	}, nil
}

// Source feeds a stored credential to a portal session. Every login
// asks for a fresh handle, so a rotated credential takes effect on the
// next attempt without restarting anything.
type Source struct {
	Svc  Service
	Name string
}

func (s Source) Credential(ctx context.Context) (vantage.Credential, error) {
	handle, err := s.Svc.CredentialHandle(ctx, s.Name)
	if err != nil {
		return vantage.Credential{}, err
	}
	return handle.Redeem(ctx)
}

type ApiTokenInfo struct {
	Label     string `json:"label"`
	CreatedAt int64  `json:"created_at"`
}

func (s Service) CreateApiToken(ctx context.Context, label string) (string, error) {
	ctx, span := tracer.Start(ctx, "CreateApiToken", trace.WithAttributes(
		attribute.String("label", label),
	))
	defer span.End()

	token, err := random.String(apiTokenLength)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate token")
		return "", err
	}
	err = s.qry.CreateApiToken(ctx, db.CreateApiTokenParams{
		Token:     token,
		Label:     label,
		CreatedAt: timezone.Now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store token")
		return "", err
	}
	return token, nil
}

func (s Service) CheckApiToken(ctx context.Context, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "CheckApiToken")
	defer span.End()

	_, err := s.qry.FindApiToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find token")
		return false, err
	}
	return true, nil
}

func (s Service) RevokeApiToken(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "RevokeApiToken")
	defer span.End()

	err := s.qry.DeleteApiToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete token")
		return err
	}
	return nil
}

func (s Service) ListApiTokens(ctx context.Context) ([]ApiTokenInfo, error) {
	ctx, span := tracer.Start(ctx, "ListApiTokens")
	defer span.End()

	rows, err := s.qry.ListApiTokens(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list tokens")
		return nil, err
	}
	out := make([]ApiTokenInfo, len(rows))
	for i, row := range rows {
		out[i] = ApiTokenInfo{
			Label:     row.Label,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}
