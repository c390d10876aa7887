package tenantstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// NOTE: This store assumes the following tables exist:
// - tenant_telephony_configs (UNIQUE (tenant_id) -- backstop for the
//   concurrent fetch-or-create race, see migrations/001_telephony.sql)
// - phone_numbers (PRIMARY KEY (tenant_id, number))

var ErrNotFound = errors.New("not found")

// Store persists tenant telephony configuration and owned numbers.
type Store struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

/* ===================== TELEPHONY CONFIG ===================== */

func (s *Store) GetConfig(ctx context.Context, tenantID string) (TelephonyConfig, error) {
	const q = `
SELECT tenant_id, trunk_sid, credential_list_sid, credential_sid,
       sip_username, sip_password_ciphertext, sip_password_iv, sip_password_auth_tag,
       emergency_address_sid, regulatory_bundle_sid, termination_uris,
       setup_status, created_at, updated_at
FROM tenant_telephony_configs
WHERE tenant_id = $1
`
	var (
		c        TelephonyConfig
		urisJSON string
	)
	if err := s.db.QueryRowContext(ctx, q, tenantID).Scan(
		&c.TenantID,
		&c.TrunkSID,
		&c.CredentialListSID,
		&c.CredentialSID,
		&c.SIPUsername,
		&c.SIPPassword.Ciphertext,
		&c.SIPPassword.IV,
		&c.SIPPassword.AuthTag,
		&c.EmergencyAddressSID,
		&c.RegulatoryBundleSID,
		&urisJSON,
		&c.SetupStatus,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TelephonyConfig{}, ErrNotFound
		}
		return TelephonyConfig{}, err
	}
	if urisJSON != "" {
		if err := json.Unmarshal([]byte(urisJSON), &c.TerminationURIs); err != nil {
			return TelephonyConfig{}, err
		}
	}
	return c, nil
}

// UpsertConfig writes the full config document for a tenant.
// ON CONFLICT keeps the operation idempotent under concurrent first-call races.
func (s *Store) UpsertConfig(ctx context.Context, c TelephonyConfig) error {
	uris, err := json.Marshal(c.TerminationURIs)
	if err != nil {
		return err
	}
	now := s.clock().UTC()

	const q = `
INSERT INTO tenant_telephony_configs (
  tenant_id, trunk_sid, credential_list_sid, credential_sid,
  sip_username, sip_password_ciphertext, sip_password_iv, sip_password_auth_tag,
  emergency_address_sid, regulatory_bundle_sid, termination_uris,
  setup_status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13
)
ON CONFLICT (tenant_id)
DO UPDATE SET trunk_sid = EXCLUDED.trunk_sid,
              credential_list_sid = EXCLUDED.credential_list_sid,
              credential_sid = EXCLUDED.credential_sid,
              sip_username = EXCLUDED.sip_username,
              sip_password_ciphertext = EXCLUDED.sip_password_ciphertext,
              sip_password_iv = EXCLUDED.sip_password_iv,
              sip_password_auth_tag = EXCLUDED.sip_password_auth_tag,
              emergency_address_sid = EXCLUDED.emergency_address_sid,
              regulatory_bundle_sid = EXCLUDED.regulatory_bundle_sid,
              termination_uris = EXCLUDED.termination_uris,
              setup_status = EXCLUDED.setup_status,
              updated_at = EXCLUDED.updated_at
`
	_, err = s.db.ExecContext(ctx, q,
		c.TenantID,
		c.TrunkSID,
		c.CredentialListSID,
		c.CredentialSID,
		c.SIPUsername,
		c.SIPPassword.Ciphertext,
		c.SIPPassword.IV,
		c.SIPPassword.AuthTag,
		c.EmergencyAddressSID,
		c.RegulatoryBundleSID,
		string(uris),
		c.SetupStatus,
		now,
	)
	return err
}

// ClearConfig unsets provisioned fields while keeping the tenant row, matching
// cleanup semantics (the document survives, its references do not).
func (s *Store) ClearConfig(ctx context.Context, tenantID string) error {
	const q = `
UPDATE tenant_telephony_configs
SET trunk_sid = '', credential_list_sid = '', credential_sid = '',
    sip_username = '', sip_password_ciphertext = '', sip_password_iv = '', sip_password_auth_tag = '',
    termination_uris = '[]', setup_status = $2, updated_at = $3
WHERE tenant_id = $1
`
	res, err := s.db.ExecContext(ctx, q, tenantID, SetupStatusCleared, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TenantOwningTrunk resolves which tenant, if any, has claimed a trunk.
// Used by legacy trunk discovery to avoid adopting another tenant's trunk.
func (s *Store) TenantOwningTrunk(ctx context.Context, trunkSID string) (string, bool, error) {
	const q = `
SELECT tenant_id
FROM tenant_telephony_configs
WHERE trunk_sid = $1
LIMIT 1
`
	var tenantID string
	err := s.db.QueryRowContext(ctx, q, trunkSID).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return tenantID, true, nil
}

/* ===================== OWNED NUMBERS ===================== */

const numberColumns = `
tenant_id, number, provider_sid, agent_platform_id,
inbound_agent_id, outbound_agent_id, nickname,
number_type, country, imported, agent_version,
status, created_at, updated_at
`

func scanNumber(row interface{ Scan(...any) error }) (OwnedNumber, error) {
	var (
		n       OwnedNumber
		version sql.NullInt64
	)
	if err := row.Scan(
		&n.TenantID,
		&n.Number,
		&n.ProviderSID,
		&n.AgentPlatformID,
		&n.InboundAgentID,
		&n.OutboundAgentID,
		&n.Nickname,
		&n.NumberType,
		&n.Country,
		&n.Imported,
		&version,
		&n.Status,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return OwnedNumber{}, err
	}
	if version.Valid {
		n.AgentVersion = &version.Int64
	}
	return n, nil
}

func (s *Store) CreateNumber(ctx context.Context, n OwnedNumber) error {
	now := s.clock().UTC()
	const q = `
INSERT INTO phone_numbers (
  tenant_id, number, provider_sid, agent_platform_id,
  inbound_agent_id, outbound_agent_id, nickname,
  number_type, country, imported, agent_version,
  status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13
)
`
	_, err := s.db.ExecContext(ctx, q,
		n.TenantID,
		n.Number,
		n.ProviderSID,
		n.AgentPlatformID,
		n.InboundAgentID,
		n.OutboundAgentID,
		n.Nickname,
		n.NumberType,
		n.Country,
		n.Imported,
		nullableVersion(n.AgentVersion),
		n.Status,
		now,
	)
	return err
}

func (s *Store) GetNumber(ctx context.Context, tenantID, number string) (OwnedNumber, error) {
	const q = `
SELECT ` + numberColumns + `
FROM phone_numbers
WHERE tenant_id = $1 AND number = $2
`
	n, err := scanNumber(s.db.QueryRowContext(ctx, q, tenantID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OwnedNumber{}, ErrNotFound
		}
		return OwnedNumber{}, err
	}
	return n, nil
}

func (s *Store) ListNumbers(ctx context.Context, tenantID string) ([]OwnedNumber, error) {
	const q = `
SELECT ` + numberColumns + `
FROM phone_numbers
WHERE tenant_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OwnedNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateAssignment persists new agent bindings and the platform version stamp.
// A nil version explicitly nulls the stamp (assignment cleared).
func (s *Store) UpdateAssignment(ctx context.Context, tenantID, number, inboundAgentID, outboundAgentID, nickname string, version *int64) error {
	const q = `
UPDATE phone_numbers
SET inbound_agent_id = $3, outbound_agent_id = $4, nickname = $5,
    agent_version = $6, updated_at = $7
WHERE tenant_id = $1 AND number = $2
`
	res, err := s.db.ExecContext(ctx, q,
		tenantID, number, inboundAgentID, outboundAgentID, nickname,
		nullableVersion(version), s.clock().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkImported records a later successful agent-platform import on an existing
// row. The row already exists (the number was persisted with imported=false),
// so this must be an UPDATE, never a second INSERT against the primary key.
func (s *Store) MarkImported(ctx context.Context, tenantID, number, agentPlatformID string) error {
	const q = `
UPDATE phone_numbers
SET imported = TRUE, agent_platform_id = $3, updated_at = $4
WHERE tenant_id = $1 AND number = $2
`
	res, err := s.db.ExecContext(ctx, q, tenantID, number, agentPlatformID, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNumber(ctx context.Context, tenantID, number string) error {
	const q = `
DELETE FROM phone_numbers
WHERE tenant_id = $1 AND number = $2
`
	res, err := s.db.ExecContext(ctx, q, tenantID, number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableVersion(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
