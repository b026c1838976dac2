// Package push contains the public domain model and collaborator contracts of the
// unified push service: applications, their platform variants, outgoing messages
// and the interfaces the dispatcher uses to reach registries and platform senders.
package push

import "fmt"

// Kind identifies the push platform a Variant delivers through.
type Kind string

const (
	KindAndroid           Kind = "android"
	KindIOS               Kind = "ios"
	KindSimplePush        Kind = "simplePush"
	KindChromePackagedApp Kind = "chromePackagedApp"
)

// Kinds lists every supported platform in a stable order.
var Kinds = []Kind{KindIOS, KindAndroid, KindChromePackagedApp, KindSimplePush}

// Native reports whether the platform consumes the native payload (Message.Data).
// SimplePush is the only platform that does not.
func (k Kind) Native() bool {
	return k != KindSimplePush
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind converts the stored platform name back into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown variant kind %q", s)
}

// Variant is a registered client application target for one platform.
//
// The set of implementations is closed: only the four variant types declared in
// this package satisfy it.
type Variant interface {
	VariantID() string
	Kind() Kind
	variant()
}

// VariantInfo holds the attributes every variant shares.
type VariantInfo struct {
	ID          string `json:"variantID"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Secret      string `json:"secret,omitempty"`
}

func (v VariantInfo) VariantID() string { return v.ID }

// AndroidVariant delivers through Firebase Cloud Messaging.
type AndroidVariant struct {
	VariantInfo
	ProjectNumber string `json:"projectNumber,omitempty"`
	// PackageName restricts delivery to a single application package when set.
	PackageName string `json:"packageName,omitempty"`
}

func (*AndroidVariant) Kind() Kind { return KindAndroid }
func (*AndroidVariant) variant()   {}

// IOSVariant delivers through the Apple Push Notification service.
type IOSVariant struct {
	VariantInfo
	BundleID   string `json:"bundleID,omitempty"`
	Production bool   `json:"production"`
}

func (*IOSVariant) Kind() Kind { return KindIOS }
func (*IOSVariant) variant()   {}

// SimplePushVariant delivers version updates to SimplePush endpoint URLs.
type SimplePushVariant struct {
	VariantInfo
}

func (*SimplePushVariant) Kind() Kind { return KindSimplePush }
func (*SimplePushVariant) variant()   {}

// ChromePackagedAppVariant delivers to Chrome through Web Push subscriptions.
type ChromePackagedAppVariant struct {
	VariantInfo
	ClientID string `json:"clientID,omitempty"`
}

func (*ChromePackagedAppVariant) Kind() Kind { return KindChromePackagedApp }
func (*ChromePackagedAppVariant) variant()   {}

// Application owns zero or more variants of every kind.
type Application struct {
	ID          string `json:"pushApplicationID"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	AndroidVariants           []*AndroidVariant           `json:"androidVariants,omitempty"`
	IOSVariants               []*IOSVariant               `json:"iosVariants,omitempty"`
	SimplePushVariants        []*SimplePushVariant        `json:"simplePushVariants,omitempty"`
	ChromePackagedAppVariants []*ChromePackagedAppVariant `json:"chromePackagedAppVariants,omitempty"`
}

// Variants returns every variant of the application, regardless of platform.
func (a *Application) Variants() []Variant {
	all := make([]Variant, 0, len(a.AndroidVariants)+len(a.IOSVariants)+len(a.SimplePushVariants)+len(a.ChromePackagedAppVariants))
	for _, v := range a.AndroidVariants {
		all = append(all, v)
	}
	for _, v := range a.IOSVariants {
		all = append(all, v)
	}
	for _, v := range a.SimplePushVariants {
		all = append(all, v)
	}
	for _, v := range a.ChromePackagedAppVariants {
		all = append(all, v)
	}
	return all
}

// AddVariant appends v to the collection matching its kind.
func (a *Application) AddVariant(v Variant) {
	switch tv := v.(type) {
	case *AndroidVariant:
		a.AndroidVariants = append(a.AndroidVariants, tv)
	case *IOSVariant:
		a.IOSVariants = append(a.IOSVariants, tv)
	case *SimplePushVariant:
		a.SimplePushVariants = append(a.SimplePushVariants, tv)
	case *ChromePackagedAppVariant:
		a.ChromePackagedAppVariants = append(a.ChromePackagedAppVariants, tv)
	}
}
