// Package firestore persists push applications, their variants and device
// installations in Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-unifiedpush-service/pkg/push"
)

const (
	applicationsCollection = "applications"
	variantsCollection     = "variants"
)

// ApplicationStore implements push.ApplicationStore.
//
// Layout:
//
//	applications/{applicationID}
//	variants/{variantID}          (flat record, keyed by application_id)
//
// Variants live in a root collection so FindByVariantID is a single document read.
type ApplicationStore struct {
	client *firestore.Client
	logger *slog.Logger
}

var _ push.ApplicationWriter = (*ApplicationStore)(nil)

func NewApplicationStore(client *firestore.Client, logger *slog.Logger) *ApplicationStore {
	return &ApplicationStore{
		client: client,
		logger: logger.With("component", "ApplicationStore"),
	}
}

type applicationRecord struct {
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
}

// variantRecord is the internal DB representation of every variant kind.
// Kind decides which of the platform fields are meaningful.
type variantRecord struct {
	ApplicationID string `firestore:"application_id"`
	Kind          string `firestore:"kind"`
	Name          string `firestore:"name,omitempty"`
	Description   string `firestore:"description,omitempty"`
	Secret        string `firestore:"secret,omitempty"`

	// Android
	ProjectNumber string `firestore:"project_number,omitempty"`
	PackageName   string `firestore:"package_name,omitempty"`
	// iOS
	BundleID   string `firestore:"bundle_id,omitempty"`
	Production bool   `firestore:"production,omitempty"`
	// Chrome packaged app
	ClientID string `firestore:"client_id,omitempty"`
}

func toVariantRecord(applicationID string, v push.Variant) (string, variantRecord, error) {
	rec := variantRecord{ApplicationID: applicationID, Kind: v.Kind().String()}
	var info push.VariantInfo

	switch tv := v.(type) {
	case *push.AndroidVariant:
		info = tv.VariantInfo
		rec.ProjectNumber = tv.ProjectNumber
		rec.PackageName = tv.PackageName
	case *push.IOSVariant:
		info = tv.VariantInfo
		rec.BundleID = tv.BundleID
		rec.Production = tv.Production
	case *push.SimplePushVariant:
		info = tv.VariantInfo
	case *push.ChromePackagedAppVariant:
		info = tv.VariantInfo
		rec.ClientID = tv.ClientID
	default:
		return "", rec, fmt.Errorf("unsupported variant type %T", v)
	}
	if info.ID == "" {
		return "", rec, fmt.Errorf("variant of kind %s has no id", v.Kind())
	}

	rec.Name = info.Name
	rec.Description = info.Description
	rec.Secret = info.Secret
	return info.ID, rec, nil
}

func (r variantRecord) toVariant(id string) (push.Variant, error) {
	kind, err := push.ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	info := push.VariantInfo{ID: id, Name: r.Name, Description: r.Description, Secret: r.Secret}

	switch kind {
	case push.KindAndroid:
		return &push.AndroidVariant{VariantInfo: info, ProjectNumber: r.ProjectNumber, PackageName: r.PackageName}, nil
	case push.KindIOS:
		return &push.IOSVariant{VariantInfo: info, BundleID: r.BundleID, Production: r.Production}, nil
	case push.KindSimplePush:
		return &push.SimplePushVariant{VariantInfo: info}, nil
	case push.KindChromePackagedApp:
		return &push.ChromePackagedAppVariant{VariantInfo: info, ClientID: r.ClientID}, nil
	}
	return nil, fmt.Errorf("unknown variant kind %q", r.Kind)
}

// FindByVariantID implements push.VariantDirectory.
func (s *ApplicationStore) FindByVariantID(ctx context.Context, variantID string) (push.Variant, error) {
	doc, err := s.client.Collection(variantsCollection).Doc(variantID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", push.ErrVariantNotFound, variantID)
		}
		return nil, fmt.Errorf("failed to load variant %s: %w", variantID, err)
	}

	var rec variantRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode variant %s: %w", variantID, err)
	}
	return rec.toVariant(doc.Ref.ID)
}

// FindApplication loads the application and every variant that belongs to it.
func (s *ApplicationStore) FindApplication(ctx context.Context, applicationID string) (*push.Application, error) {
	doc, err := s.client.Collection(applicationsCollection).Doc(applicationID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", push.ErrApplicationNotFound, applicationID)
		}
		return nil, fmt.Errorf("failed to load application %s: %w", applicationID, err)
	}

	var rec applicationRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode application %s: %w", applicationID, err)
	}
	app := &push.Application{ID: applicationID, Name: rec.Name, Description: rec.Description}

	iter := s.client.Collection(variantsCollection).Where("application_id", "==", applicationID).Documents(ctx)
	defer iter.Stop()

	for {
		vdoc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var vrec variantRecord
		if err := vdoc.DataTo(&vrec); err != nil {
			s.logger.Warn("Skipping corrupt variant record", "variant_id", vdoc.Ref.ID, "err", err)
			continue
		}
		variant, err := vrec.toVariant(vdoc.Ref.ID)
		if err != nil {
			s.logger.Warn("Skipping variant with unknown kind", "variant_id", vdoc.Ref.ID, "err", err)
			continue
		}
		app.AddVariant(variant)
	}

	return app, nil
}

// SaveApplication writes the application document and all of its variants in one transaction.
func (s *ApplicationStore) SaveApplication(ctx context.Context, app *push.Application) error {
	if app.ID == "" {
		return fmt.Errorf("application has no id")
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		appRef := s.client.Collection(applicationsCollection).Doc(app.ID)
		if err := tx.Set(appRef, applicationRecord{Name: app.Name, Description: app.Description}); err != nil {
			return err
		}
		for _, v := range app.Variants() {
			id, rec, err := toVariantRecord(app.ID, v)
			if err != nil {
				return err
			}
			if err := tx.Set(s.client.Collection(variantsCollection).Doc(id), rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveVariant adds or replaces one variant of an existing application.
func (s *ApplicationStore) SaveVariant(ctx context.Context, applicationID string, v push.Variant) error {
	id, rec, err := toVariantRecord(applicationID, v)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(variantsCollection).Doc(id).Set(ctx, rec); err != nil {
		return fmt.Errorf("failed to save variant %s: %w", id, err)
	}
	return nil
}
