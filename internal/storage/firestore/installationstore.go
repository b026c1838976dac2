package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

const (
	installationsCollection = "installations"

	// maxDisjunctionValues is Firestore's limit for array-contains-any filters.
	maxDisjunctionValues = 30
)

// InstallationStore implements push.InstallationStore using Google Cloud Firestore.
type InstallationStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewInstallationStore(client *firestore.Client, logger *slog.Logger) *InstallationStore {
	return &InstallationStore{
		client: client,
		logger: logger.With("component", "InstallationStore"),
	}
}

// installationRecord is the internal DB representation.
type installationRecord struct {
	DeviceToken string    `firestore:"device_token"`
	DeviceType  string    `firestore:"device_type,omitempty"`
	Alias       string    `firestore:"alias,omitempty"`
	Categories  []string  `firestore:"categories"`
	Enabled     bool      `firestore:"enabled"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

func (r installationRecord) toInstallation() push.Installation {
	return push.Installation{
		DeviceToken: r.DeviceToken,
		DeviceType:  r.DeviceType,
		Alias:       r.Alias,
		Categories:  r.Categories,
		Enabled:     r.Enabled,
	}
}

// RegisterInstallation upserts the installation. Re-registering the same token
// replaces its metadata.
func (s *InstallationStore) RegisterInstallation(ctx context.Context, variantID string, installation push.Installation) error {
	if installation.DeviceToken == "" {
		return fmt.Errorf("installation has no device token")
	}

	categories := installation.Categories
	if categories == nil {
		categories = []string{}
	}
	record := installationRecord{
		DeviceToken: installation.DeviceToken,
		DeviceType:  installation.DeviceType,
		Alias:       installation.Alias,
		Categories:  categories,
		Enabled:     installation.Enabled,
		UpdatedAt:   time.Now(),
	}

	// Use hash of token as Doc ID to prevent duplicates and hot-spotting
	if _, err := s.installationRef(variantID, installation.DeviceToken).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to register installation for variant %s: %w", variantID, err)
	}
	return nil
}

func (s *InstallationStore) UnregisterInstallation(ctx context.Context, variantID string, deviceToken string) error {
	if _, err := s.installationRef(variantID, deviceToken).Delete(ctx); err != nil {
		return fmt.Errorf("failed to unregister installation for variant %s: %w", variantID, err)
	}
	return nil
}

// FindDeviceEndpoints implements push.EndpointResolver. The enabled flag and (when it
// fits in one disjunction) the category filter run in Firestore; the remaining
// criteria are applied to the fetched records. Tokens are returned once each.
func (s *InstallationStore) FindDeviceEndpoints(ctx context.Context, variantID string, categories, aliases, deviceTypes []string) ([]string, error) {
	query := s.installations(variantID).Where("enabled", "==", true)
	if len(categories) > 0 && len(categories) <= maxDisjunctionValues {
		query = query.Where("categories", "array-contains-any", categories)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	seen := make(map[string]struct{})
	tokens := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record installationRecord
		if err := doc.DataTo(&record); err != nil {
			s.logger.Warn("Skipping corrupt installation record", "variant_id", variantID, "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		if !record.toInstallation().MatchesCriteria(categories, aliases, deviceTypes) {
			continue
		}
		if _, dup := seen[record.DeviceToken]; dup {
			continue
		}
		seen[record.DeviceToken] = struct{}{}
		tokens = append(tokens, record.DeviceToken)
	}

	return tokens, nil
}

// RemoveInstallations implements push.InstallationPruner. Every token is attempted.
func (s *InstallationStore) RemoveInstallations(ctx context.Context, variantID string, tokens []string) error {
	var result *multierror.Error
	for _, token := range tokens {
		if _, err := s.installationRef(variantID, token).Delete(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("failed to remove installations for variant %s: %w", variantID, err)
	}
	s.logger.Debug("Removed installations", "variant_id", variantID, "count", len(tokens))
	return nil
}

// installationRef: variants/{variantID}/installations/{tokenHash}
func (s *InstallationStore) installationRef(variantID, token string) *firestore.DocumentRef {
	return s.installations(variantID).Doc(hashToken(token))
}

func (s *InstallationStore) installations(variantID string) *firestore.CollectionRef {
	return s.client.Collection(variantsCollection).Doc(variantID).Collection(installationsCollection)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
