package push

// SendCriteria narrows a message down to variants and, inside each variant, to devices.
// Empty fields do not filter.
type SendCriteria struct {
	// Variants lists explicit variant IDs. When empty, every variant of the
	// application is targeted.
	Variants    []string `json:"variants,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Aliases     []string `json:"alias,omitempty"`
	DeviceTypes []string `json:"deviceType,omitempty"`
}

// Payload is the native platform payload (iOS, Android, Chrome).
type Payload struct {
	Alert            string            `json:"alert,omitempty"`
	Sound            string            `json:"sound,omitempty"`
	Badge            int               `json:"badge,omitempty"`
	ContentAvailable bool              `json:"content-available,omitempty"`
	Extras           map[string]string `json:"extras,omitempty"`
}

// Message is one outgoing push.
//
// Data and SimplePush gate their platform families independently: a nil Data
// skips iOS, Android and Chrome; a nil SimplePush skips SimplePush.
type Message struct {
	ID         string       `json:"id,omitempty"`
	Data       *Payload     `json:"data,omitempty"`
	SimplePush *string      `json:"simple-push,omitempty"`
	Criteria   SendCriteria `json:"criteria"`
	// TimeToLive is the delivery window in seconds. Zero leaves it to the platform.
	TimeToLive int `json:"ttl,omitempty"`
}

// HasNativePayload reports whether iOS, Android and Chrome variants should receive the message.
func (m *Message) HasNativePayload() bool {
	return m.Data != nil
}

// HasSimplePushPayload reports whether SimplePush variants should receive the message.
func (m *Message) HasSimplePushPayload() bool {
	return m.SimplePush != nil
}

// SendRequest is the unit of work travelling through the ingestion queue.
type SendRequest struct {
	ApplicationID string  `json:"pushApplicationID"`
	Message       Message `json:"message"`
	// Attempt counts earlier deliveries of this message. Retries are narrowed to
	// the variants that failed.
	Attempt int `json:"attempt,omitempty"`
}
