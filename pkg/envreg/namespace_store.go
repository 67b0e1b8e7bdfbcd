package envreg

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/envhub/env-registry/pkg/db"
	"github.com/envhub/env-registry/pkg/signature"
)

// DefaultNamespacePattern accepts dot-segmented lowercase alphanumeric
// namespaces such as "acme" or "acme.ui".
const DefaultNamespacePattern = `^[a-z0-9]+(\.[a-z0-9]+)*$`

// NamespaceRegistry stores namespace keys and authenticates publishers
// against the nearest registered ancestor of an environment name.
type NamespaceRegistry struct {
	db       *gorm.DB
	adminKey *rsa.PublicKey
	pattern  *regexp.Regexp
}

// NewNamespaceRegistry creates a NamespaceRegistry. adminKey verifies
// namespace registrations.
func NewNamespaceRegistry(db *gorm.DB, adminKey *rsa.PublicKey) *NamespaceRegistry {
	return &NamespaceRegistry{
		db:       db,
		adminKey: adminKey,
		pattern:  regexp.MustCompile(DefaultNamespacePattern),
	}
}

// SetNamespacePattern replaces the pattern new namespaces must match.
func (n *NamespaceRegistry) SetNamespacePattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile namespace pattern: %w", err)
	}
	n.pattern = re
	return nil
}

// Register authenticates reg against the admin key, validates the submitted
// key and stores the namespace.
func (n *NamespaceRegistry) Register(ctx context.Context, reg NamespaceRegistration) (string, error) {
	if err := reg.Validate(); err != nil {
		return "", err
	}
	if !n.pattern.MatchString(reg.Namespace) {
		return "", validationError(fmt.Sprintf("namespace %q must match %s", reg.Namespace, n.pattern.String()))
	}
	if n.adminKey == nil {
		return "", errors.New("admin key is not configured")
	}

	ok, err := signature.VerifyWithKey(n.adminKey, signature.NamespaceMessage(reg.Namespace, reg.Key), reg.Signature)
	if err != nil {
		return "", newError(CodeAuthenticationFailed, "authentication failed: malformed admin signature", err)
	}
	if !ok {
		return "", newError(CodeAuthenticationFailed, "authentication failed: admin signature does not match", nil)
	}

	pemText, _, err := signature.DecodePublicKey(reg.Key)
	if err != nil {
		return "", newError(CodeValidationFailed, err.Error(), err)
	}

	existing, err := n.Get(ctx, reg.Namespace)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", alreadyRegistered(reg.Namespace, nil)
	}

	rec := &NamespaceRecord{Namespace: reg.Namespace, PublicKey: pemText}
	if err := n.db.WithContext(ctx).Create(rec).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return "", alreadyRegistered(reg.Namespace, err)
		}
		return "", fmt.Errorf("create namespace: %w", err)
	}
	return rec.Namespace, nil
}

func alreadyRegistered(namespace string, cause error) error {
	return newError(CodeAlreadyRegistered, fmt.Sprintf("namespace %q is already registered", namespace), cause)
}

// ResolveKeyForName returns the longest registered namespace that equals
// name or one of its dotted ancestors. Returns nil, nil if none is registered.
func (n *NamespaceRegistry) ResolveKeyForName(ctx context.Context, name string) (*NamespaceRecord, error) {
	candidates := ancestors(name)
	if len(candidates) == 0 {
		return nil, nil
	}

	var records []NamespaceRecord
	if err := n.db.WithContext(ctx).Where("namespace IN ?", candidates).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("resolve namespace: %w", err)
	}

	// candidates is ordered most specific first.
	for _, c := range candidates {
		for i := range records {
			if records[i].Namespace == c {
				return &records[i], nil
			}
		}
	}
	return nil, nil
}

// ancestors returns name followed by each prefix obtained by stripping the
// last dotted segment, down to the first segment.
func ancestors(name string) []string {
	if name == "" {
		return nil
	}
	out := []string{name}
	for {
		i := strings.LastIndex(name, ".")
		if i <= 0 {
			return out
		}
		name = name[:i]
		out = append(out, name)
	}
}

// Authenticate verifies signatureBase64 over message with the key of the
// namespace owning name, and returns that namespace.
func (n *NamespaceRegistry) Authenticate(ctx context.Context, name string, message []byte, signatureBase64 string) (string, error) {
	rec, err := n.ResolveKeyForName(ctx, name)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", newError(CodeNamespaceNotRegistered, fmt.Sprintf("no registered namespace owns %q", name), nil)
	}

	ok, err := signature.Verify(rec.PublicKey, message, signatureBase64)
	if err != nil {
		if errors.Is(err, signature.ErrMalformedSignature) {
			return "", newError(CodeAuthenticationFailed, "authentication failed: malformed signature", err)
		}
		return "", fmt.Errorf("verify signature for namespace %s: %w", rec.Namespace, err)
	}
	if !ok {
		return "", newError(CodeAuthenticationFailed, fmt.Sprintf("authentication failed: signature does not match the key of namespace %q", rec.Namespace), nil)
	}
	return rec.Namespace, nil
}

// Get returns a namespace by name, or nil, nil if it does not exist.
func (n *NamespaceRegistry) Get(ctx context.Context, namespace string) (*NamespaceRecord, error) {
	var rec NamespaceRecord
	if err := n.db.WithContext(ctx).Where("namespace = ?", namespace).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get namespace: %w", err)
	}
	return &rec, nil
}

// List returns all namespaces in registration order.
func (n *NamespaceRegistry) List(ctx context.Context) ([]NamespaceInfo, error) {
	var records []NamespaceRecord
	if err := n.db.WithContext(ctx).Order("created_at ASC").Order("namespace ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	out := make([]NamespaceInfo, len(records))
	for i, rec := range records {
		out[i] = NamespaceInfo{Namespace: rec.Namespace, CreatedAt: rec.CreatedAt}
	}
	return out, nil
}
