package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hireloop/authcore/internal"
	"github.com/hireloop/authcore/totp"
)

// SetupMFA generates a candidate TOTP secret with provisioning data.
// Nothing is persisted; the account stays MFA-less until the candidate
// is proven with ConfirmMFA. Abandoned setups leave no trace.
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (MFASetup, error) {
	if err := e.checkReady(); err != nil {
		return MFASetup{}, err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return MFASetup{}, ErrAccountNotFound
	}
	if err != nil {
		return MFASetup{}, storeErr(err)
	}

	key, err := totp.Generate(e.config.MFA.Issuer, acc.Email)
	if err != nil {
		return MFASetup{}, err
	}
	return MFASetup{
		Secret:         key.Secret,
		OTPAuthURL:     key.URL,
		ManualEntryKey: key.ManualEntryKey,
	}, nil
}

// ConfirmMFA proves possession of the candidate secret from SetupMFA and
// enables MFA: the secret is sealed and persisted, and a fresh set of
// backup codes is generated. The plaintext codes appear only in this
// response.
func (e *Engine) ConfirmMFA(ctx context.Context, accountID, candidateSecret, code string) (ConfirmMFAResult, error) {
	if err := e.checkReady(); err != nil {
		return ConfirmMFAResult{}, err
	}

	if _, err := e.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ConfirmMFAResult{}, ErrAccountNotFound
		}
		return ConfirmMFAResult{}, storeErr(err)
	}

	ok, step, err := totp.Validate(code, candidateSecret, time.Now(), e.config.MFA.Skew)
	if err != nil {
		return ConfirmMFAResult{}, ErrInvalidMFACode
	}
	if !ok {
		e.metrics.Inc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAConfirmed, false, accountID, "", ErrInvalidMFACode, nil)
		return ConfirmMFAResult{}, ErrInvalidMFACode
	}

	sealed, err := e.sealer.Seal([]byte(candidateSecret))
	if err != nil {
		return ConfirmMFAResult{}, err
	}
	if err := e.accounts.SetMFASecret(ctx, accountID, sealed); err != nil {
		return ConfirmMFAResult{}, storeErr(err)
	}
	// The confirmation code itself must not be replayable at login.
	if err := e.accounts.UpdateTOTPLastStep(ctx, accountID, step); err != nil {
		return ConfirmMFAResult{}, storeErr(err)
	}

	codes, err := e.replaceBackupCodes(ctx, accountID)
	if err != nil {
		return ConfirmMFAResult{}, err
	}

	e.emitAudit(ctx, auditEventMFAConfirmed, true, accountID, "", nil, nil)
	return ConfirmMFAResult{BackupCodes: codes}, nil
}

// DisableMFA turns MFA off after re-proving both factors: the password
// and a current TOTP code or unused backup code. Tenants whose policy
// mandates MFA cannot disable it at all. All sessions are revoked so the
// weaker posture starts from a clean slate.
func (e *Engine) DisableMFA(ctx context.Context, accountID, pass, code string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return storeErr(err)
	}

	pol := e.policy.resolve(ctx, tenantIDOrAccount(acc, tenantIDFromContext(ctx)))
	if pol.RequireMFA {
		e.emitAudit(ctx, auditEventMFADisabled, false, accountID, "", ErrMandatoryMFAPolicy, nil)
		return ErrMandatoryMFAPolicy
	}
	if !acc.MFAEnabled || len(acc.MFASecret) == 0 {
		return ErrMFANotConfigured
	}

	if err := e.verifySecondFactorProof(ctx, acc, pass, code, true); err != nil {
		e.emitAudit(ctx, auditEventMFADisabled, false, accountID, "", err, nil)
		return err
	}

	if err := e.accounts.ClearMFA(ctx, accountID); err != nil {
		return storeErr(err)
	}
	if _, err := e.RevokeAllSessions(ctx, accountID); err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes atomically replaces the full backup code set
// after re-proving password and TOTP. Old codes die even if the response
// is lost.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, pass, code string) ([]string, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	if !acc.MFAEnabled || len(acc.MFASecret) == 0 {
		return nil, ErrMFANotConfigured
	}

	if err := e.verifySecondFactorProof(ctx, acc, pass, code, false); err != nil {
		e.emitAudit(ctx, auditEventBackupCodesRegen, false, accountID, "", err, nil)
		return nil, err
	}

	codes, err := e.replaceBackupCodes(ctx, accountID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegen, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// verifySecondFactorProof checks password plus a TOTP code, optionally
// accepting a backup code instead. Used by the destructive MFA flows.
func (e *Engine) verifySecondFactorProof(ctx context.Context, acc AccountRecord, pass, code string, allowBackup bool) error {
	ok, err := e.passwords.Verify(pass, acc.PasswordHash)
	if err != nil || !ok {
		return ErrInvalidCredentials
	}

	secret, err := e.sealer.Open(acc.MFASecret)
	if err != nil {
		return storeErr(err)
	}
	valid, step, err := totp.Validate(code, string(secret), time.Now(), e.config.MFA.Skew)
	if err != nil {
		return storeErr(err)
	}
	if valid && step > acc.TOTPLastStep {
		return e.accounts.UpdateTOTPLastStep(ctx, acc.ID, step)
	}

	if allowBackup {
		consumed, err := e.accounts.ConsumeBackupCode(ctx, acc.ID, internal.HashBackupCode(code))
		if err != nil {
			return storeErr(err)
		}
		if consumed {
			return nil
		}
	}
	e.metrics.Inc(MetricMFAFailure)
	return ErrInvalidMFACode
}

func (e *Engine) replaceBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	codes := make([]string, e.config.MFA.BackupCodeCount)
	records := make([]BackupCodeRecord, len(codes))
	for i := range codes {
		code, err := internal.NewBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes[i] = code
		records[i] = BackupCodeRecord{Hash: internal.HashBackupCode(code)}
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, storeErr(err)
	}
	return codes, nil
}
