package platform

// Performance entry types.
const (
	EntryPaint    = "paint"
	EntryLCP      = "largest-contentful-paint"
	EntryLongTask = "longtask"
	EntryResource = "resource"
)

// TaskAttribution is the container a long task is attributed to.
type TaskAttribution struct {
	Name          string  `json:"name,omitempty"`
	EntryType     string  `json:"entryType,omitempty"`
	StartTime     float64 `json:"startTime"`
	Duration      float64 `json:"duration"`
	ContainerType string  `json:"containerType,omitempty"`
	ContainerName string  `json:"containerName,omitempty"`
	ContainerID   string  `json:"containerId,omitempty"`
	ContainerSrc  string  `json:"containerSrc,omitempty"`
}

// ResourceTiming carries the phase timestamps of a resource entry.
type ResourceTiming struct {
	InitiatorType     string  `json:"initiatorType,omitempty"`
	RedirectStart     float64 `json:"redirectStart"`
	RedirectEnd       float64 `json:"redirectEnd"`
	DomainLookupStart float64 `json:"domainLookupStart"`
	DomainLookupEnd   float64 `json:"domainLookupEnd"`
	ConnectStart      float64 `json:"connectStart"`
	ConnectEnd        float64 `json:"connectEnd"`
	RequestStart      float64 `json:"requestStart"`
	ResponseStart     float64 `json:"responseStart"`
	ResponseEnd       float64 `json:"responseEnd"`
	TransferSize      int64   `json:"transferSize"`
	EncodedBodySize   int64   `json:"encodedBodySize"`
	DecodedBodySize   int64   `json:"decodedBodySize"`
}

// PerformanceEntry is a timeline entry. Fields beyond the common four are
// set according to EntryType.
type PerformanceEntry struct {
	Name      string  `json:"name"`
	EntryType string  `json:"entryType"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`

	// largest-contentful-paint
	Size    float64  `json:"size,omitempty"`
	URL     string   `json:"url,omitempty"`
	Element *Element `json:"element,omitempty"`

	// longtask
	Attribution []TaskAttribution `json:"attribution,omitempty"`

	// resource
	Resource *ResourceTiming `json:"resource,omitempty"`
}

// NavigationTiming is the navigation entry of the current document.
type NavigationTiming struct {
	Type                     string  `json:"type"`
	RedirectStart            float64 `json:"redirectStart"`
	RedirectEnd              float64 `json:"redirectEnd"`
	FetchStart               float64 `json:"fetchStart"`
	DomainLookupStart        float64 `json:"domainLookupStart"`
	DomainLookupEnd          float64 `json:"domainLookupEnd"`
	ConnectStart             float64 `json:"connectStart"`
	ConnectEnd               float64 `json:"connectEnd"`
	RequestStart             float64 `json:"requestStart"`
	ResponseStart            float64 `json:"responseStart"`
	ResponseEnd              float64 `json:"responseEnd"`
	DOMInteractive           float64 `json:"domInteractive"`
	DOMContentLoadedEventEnd float64 `json:"domContentLoadedEventEnd"`
	LoadEventStart           float64 `json:"loadEventStart"`
	LoadEventEnd             float64 `json:"loadEventEnd"`
	TransferSize             int64   `json:"transferSize"`
	DecodedBodySize          int64   `json:"decodedBodySize"`
}

// Mutation types.
const (
	MutationChildList     = "childList"
	MutationAttributes    = "attributes"
	MutationCharacterData = "characterData"
)

// MutationRecord is one observed DOM change.
type MutationRecord struct {
	Type       string     `json:"type"`
	Target     *Element   `json:"target,omitempty"`
	AddedNodes []*Element `json:"addedNodes,omitempty"`
}
