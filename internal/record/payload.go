package record

import "encoding/json"

// Subtypes.
const (
	SubJS       = "js"
	SubPromise  = "promise"
	SubResource = "resource"
	SubHTTP     = "http"
	SubManual   = "manual"
	SubVue      = "vue"
	SubReact    = "react"

	SubPageLoad             = "page-load"
	SubFirstPaint           = "first-paint"
	SubFirstContentfulPaint = "first-contentful-paint"
	SubLCP                  = "largest-contentful-paint"
	SubFirstScreen          = "first-screen"
	SubWhiteScreen          = "white-screen"
	SubLongTaskSummary      = "long-task-summary"

	SubClick         = "click"
	SubPageChange    = "pageChange"
	SubPageView      = "pv"
	SubUniqueVisitor = "uv"
	SubStack         = "stack"
)

// Severity levels carried by error payloads.
const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// JSError is an uncaught runtime error.
type JSError struct {
	Message   string  `json:"message"`
	Filename  string  `json:"filename,omitempty"`
	Lineno    int     `json:"lineno"`
	Colno     int     `json:"colno"`
	Stack     string  `json:"stack"`
	Level     string  `json:"level"`
	StartTime float64 `json:"startTime"`
}

func (*JSError) Kind() (Type, string) { return TypeError, SubJS }

// PromiseRejection is an unhandled promise rejection.
type PromiseRejection struct {
	Message   string  `json:"message"`
	Stack     string  `json:"stack"`
	Level     string  `json:"level"`
	StartTime float64 `json:"startTime"`
}

func (*PromiseRejection) Kind() (Type, string) { return TypeError, SubPromise }

// ResourceError is a failed load of an element's src or href.
type ResourceError struct {
	URL       string   `json:"url"`
	TagName   string   `json:"tagName"`
	HTML      string   `json:"html,omitempty"`
	Paths     []string `json:"paths,omitempty"`
	Level     string   `json:"level"`
	StartTime float64  `json:"startTime"`
}

func (*ResourceError) Kind() (Type, string) { return TypeError, SubResource }

// HTTPError is a request that failed at the network layer or returned a
// status of 400 or above. Status is 0 for network failures and timeouts.
type HTTPError struct {
	Transport string  `json:"transport"`
	Method    string  `json:"method"`
	URL       string  `json:"url"`
	Status    int     `json:"status"`
	Duration  float64 `json:"duration"`
	Response  string  `json:"response,omitempty"`
	Message   string  `json:"message,omitempty"`
	Level     string  `json:"level"`
	StartTime int64   `json:"startTime"`
}

func (*HTTPError) Kind() (Type, string) { return TypeError, SubHTTP }

// FrameworkError is an error surfaced through a UI framework's error hook.
type FrameworkError struct {
	Framework      string  `json:"framework"`
	Message        string  `json:"message"`
	Stack          string  `json:"stack,omitempty"`
	Component      string  `json:"component,omitempty"`
	Info           string  `json:"info,omitempty"`
	ComponentStack string  `json:"componentStack,omitempty"`
	Level          string  `json:"level"`
	StartTime      float64 `json:"startTime"`
}

func (p *FrameworkError) Kind() (Type, string) { return TypeError, p.Framework }

// ManualError is reported by application code through the monitor API.
type ManualError struct {
	Name    string         `json:"name,omitempty"`
	Message string         `json:"message"`
	Stack   string         `json:"stack,omitempty"`
	Level   string         `json:"level"`
	Extra   map[string]any `json:"extra,omitempty"`
}

func (*ManualError) Kind() (Type, string) { return TypeError, SubManual }

// PageLoad is derived from the navigation timing entry. All durations are in
// milliseconds.
type PageLoad struct {
	LoadTime             float64 `json:"loadTime"`
	DOMContentLoadedTime float64 `json:"domContentLoadedTime"`
	TTFB                 float64 `json:"ttfb"`
	DNSTime              float64 `json:"dnsTime"`
	TCPTime              float64 `json:"tcpTime"`
	RedirectTime         float64 `json:"redirectTime"`
	RequestTime          float64 `json:"requestTime"`
	DOMParsingTime       float64 `json:"domParsingTime"`
	ResourceTime         float64 `json:"resourceTime"`
	NavigationType       string  `json:"navigationType,omitempty"`
	FromCache            bool    `json:"fromCache"`
}

func (*PageLoad) Kind() (Type, string) { return TypePerformance, SubPageLoad }

// ResourceTiming describes one loaded resource.
type ResourceTiming struct {
	Name            string  `json:"name"`
	InitiatorType   string  `json:"initiatorType,omitempty"`
	StartTime       float64 `json:"startTime"`
	Duration        float64 `json:"duration"`
	DNS             float64 `json:"dns"`
	TCP             float64 `json:"tcp"`
	Request         float64 `json:"request"`
	Response        float64 `json:"response"`
	Redirect        float64 `json:"redirect"`
	TTFB            float64 `json:"ttfb"`
	DecodedBodySize int64   `json:"decodedBodySize"`
	EncodedBodySize int64   `json:"encodedBodySize"`
	TransferSize    int64   `json:"transferSize"`
	FromCache       bool    `json:"fromCache"`
}

func (*ResourceTiming) Kind() (Type, string) { return TypePerformance, SubResource }

// Paint is a first-paint or first-contentful-paint mark.
type Paint struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

func (p *Paint) Kind() (Type, string) { return TypePerformance, p.Name }

// LargestContentfulPaint is the final LCP candidate of the page.
type LargestContentfulPaint struct {
	Name      string  `json:"name"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Size      float64 `json:"size"`
	EntryType string  `json:"entryType"`
	Element   string  `json:"element,omitempty"`
	OuterHTML string  `json:"outerHtml,omitempty"`
	URL       string  `json:"url,omitempty"`
}

func (*LargestContentfulPaint) Kind() (Type, string) { return TypePerformance, SubLCP }

// FirstScreen is the estimated time at which above-the-fold content settled.
type FirstScreen struct {
	StartTime       float64 `json:"startTime"`
	FirstScreenTime float64 `json:"firstScreenTime"`
	Duration        float64 `json:"duration"`
	DOMUpdateCount  int     `json:"domUpdateCount"`
}

func (*FirstScreen) Kind() (Type, string) { return TypePerformance, SubFirstScreen }

// WhiteScreen reports a page that still rendered nothing after sampling.
type WhiteScreen struct {
	IsWhiteScreen  bool    `json:"isWhiteScreen"`
	SampleMode     string  `json:"sampleMode"`
	CheckCount     int     `json:"checkCount"`
	EmptyPoints    int     `json:"emptyPoints"`
	SamplePoints   int     `json:"samplePoints"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
	URL            string  `json:"url"`
	UserAgent      string  `json:"userAgent,omitempty"`
	StartTime      float64 `json:"startTime"`
}

func (*WhiteScreen) Kind() (Type, string) { return TypePerformance, SubWhiteScreen }

// LongTaskAttribution names the container a long task was attributed to.
type LongTaskAttribution struct {
	Name          string  `json:"name,omitempty"`
	EntryType     string  `json:"entryType,omitempty"`
	StartTime     float64 `json:"startTime"`
	Duration      float64 `json:"duration"`
	ContainerType string  `json:"containerType,omitempty"`
	ContainerName string  `json:"containerName,omitempty"`
	ContainerID   string  `json:"containerId,omitempty"`
	ContainerSrc  string  `json:"containerSrc,omitempty"`
}

// LongTask is a single main-thread task inside a summary window.
type LongTask struct {
	Name        string               `json:"name"`
	EntryType   string               `json:"entryType"`
	StartTime   float64              `json:"startTime"`
	Duration    float64              `json:"duration"`
	Attribution *LongTaskAttribution `json:"attribution,omitempty"`
}

// LongTaskSummary aggregates the long tasks seen in one window.
type LongTaskSummary struct {
	Count           int        `json:"count"`
	TotalDuration   float64    `json:"totalDuration"`
	AverageDuration float64    `json:"averageDuration"`
	MaxDuration     float64    `json:"maxDuration"`
	MinDuration     float64    `json:"minDuration"`
	TimeRange       [2]float64 `json:"timeRange"`
	Tasks           []LongTask `json:"tasks"`
}

func (*LongTaskSummary) Kind() (Type, string) { return TypePerformance, SubLongTaskSummary }

// ElementInfo describes the element a click landed on.
type ElementInfo struct {
	ID        string  `json:"id,omitempty"`
	ClassName string  `json:"className,omitempty"`
	Name      string  `json:"name,omitempty"`
	Type      string  `json:"type,omitempty"`
	Value     string  `json:"value,omitempty"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

// Click is a click or touch on an element.
type Click struct {
	EventType string      `json:"eventType"`
	Target    string      `json:"target"`
	Path      string      `json:"path"`
	Content   string      `json:"content,omitempty"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Element   ElementInfo `json:"elementInfo"`
	StartTime float64     `json:"startTime"`
}

func (*Click) Kind() (Type, string) { return TypeBehavior, SubClick }

// PageChange is a route change within a single-page application.
type PageChange struct {
	ChangeType string  `json:"changeType"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	FromPath   string  `json:"fromPath"`
	ToPath     string  `json:"toPath"`
	StartTime  float64 `json:"startTime"`
}

func (*PageChange) Kind() (Type, string) { return TypeBehavior, SubPageChange }

// PageView is one page view.
type PageView struct {
	PageURL   string  `json:"pageUrl"`
	Referrer  string  `json:"referrer,omitempty"`
	Title     string  `json:"title,omitempty"`
	Persisted bool    `json:"persisted,omitempty"`
	StartTime float64 `json:"startTime"`
}

func (*PageView) Kind() (Type, string) { return TypeBehavior, SubPageView }

// UniqueVisitor is reported once per minted visitor id.
type UniqueVisitor struct {
	VisitorID string  `json:"visitorId"`
	PageURL   string  `json:"pageUrl"`
	Referrer  string  `json:"referrer,omitempty"`
	StartTime float64 `json:"startTime"`
}

func (*UniqueVisitor) Kind() (Type, string) { return TypeBehavior, SubUniqueVisitor }

// BehaviorEntry is one remembered user action.
type BehaviorEntry struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"`
	PageURL   string         `json:"pageUrl"`
	Type      Type           `json:"type"`
	SubType   string         `json:"subType,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// BehaviorStack is a snapshot of recent actions, optionally tied to an error.
type BehaviorStack struct {
	StackID string          `json:"stackId"`
	ErrorID string          `json:"errorId,omitempty"`
	Actions []BehaviorEntry `json:"actions"`
	Count   int             `json:"count"`
}

func (*BehaviorStack) Kind() (Type, string) { return TypeBehavior, SubStack }

// Interaction is a behavior record with a caller-chosen subtype, such as
// scroll or mousemove.
type Interaction struct {
	Action string         `json:"-"`
	Data   map[string]any `json:"data,omitempty"`
}

func (p *Interaction) Kind() (Type, string) { return TypeBehavior, p.Action }

// CustomEvent is an application-defined event.
type CustomEvent struct {
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

func (*CustomEvent) Kind() (Type, string) { return TypeCustomEvent, "" }

// Raw holds a payload of a kind this build does not know.
type Raw struct {
	Type    Type
	SubType string
	Fields  map[string]any
}

func (p *Raw) Kind() (Type, string) { return p.Type, p.SubType }

func (p *Raw) MarshalJSON() ([]byte, error) { return json.Marshal(p.Fields) }

func (p *Raw) UnmarshalJSON(data []byte) error { return json.Unmarshal(data, &p.Fields) }
