package event

import "time"

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeAuctionOpened
	TypeAuctionCancelled
	TypeBought
	TypeLineSet
	TypeLimitSet
)

func (t Type) String() string {
	switch t {
	case TypeAuctionOpened:
		return "AuctionOpened"
	case TypeAuctionCancelled:
		return "AuctionCancelled"
	case TypeBought:
		return "Bought"
	case TypeLineSet:
		return "LineSet"
	case TypeLimitSet:
		return "LimitSet"
	default:
		return "Unknown"
	}
}

// Event is the interface all auction event payloads implement.
// Amount fields are decimal strings so payloads round-trip through JSON
// without precision loss.
type Event interface {
	EventType() Type

	// VaultID returns the vault context, empty for admin events.
	VaultID() string

	// CollateralID returns the collateral asset for subject routing.
	CollateralID() string
}

// Emitter assigns sequence numbers and fans events out to the durable log
// and the outbound publisher.
type Emitter interface {
	Emit(e Event) int64
}

// AuctionOpened is emitted when a vault enters auction.
type AuctionOpened struct {
	Vault      string    `json:"vault"`
	Owner      string    `json:"owner"`
	Collateral string    `json:"collateral"`
	Base       string    `json:"base"`
	Art        string    `json:"art"`
	Ink        string    `json:"ink"`
	Start      time.Time `json:"start"`
}

func (e *AuctionOpened) EventType() Type      { return TypeAuctionOpened }
func (e *AuctionOpened) VaultID() string      { return e.Vault }
func (e *AuctionOpened) CollateralID() string { return e.Collateral }

// AuctionCancelled is emitted when a recovered vault leaves auction and
// returns to its owner.
type AuctionCancelled struct {
	Vault      string `json:"vault"`
	Owner      string `json:"owner"`
	Collateral string `json:"collateral"`
	Base       string `json:"base"`
	Art        string `json:"art"`
	Ink        string `json:"ink"`
}

func (e *AuctionCancelled) EventType() Type      { return TypeAuctionCancelled }
func (e *AuctionCancelled) VaultID() string      { return e.Vault }
func (e *AuctionCancelled) CollateralID() string { return e.Collateral }

// Bought is emitted on every settlement, partial or full.
type Bought struct {
	Vault      string `json:"vault"`
	Buyer      string `json:"buyer"`
	Receiver   string `json:"receiver"`
	Collateral string `json:"collateral"`
	Base       string `json:"base"`
	Ink        string `json:"ink"`
	Art        string `json:"art"`
	AssetIn    string `json:"asset_in,omitempty"`
	Full       bool   `json:"full"`
}

func (e *Bought) EventType() Type      { return TypeBought }
func (e *Bought) VaultID() string      { return e.Vault }
func (e *Bought) CollateralID() string { return e.Collateral }

// LineSet is emitted when an authorized caller replaces a market line.
type LineSet struct {
	Collateral      string `json:"collateral"`
	Base            string `json:"base"`
	DurationSeconds uint64 `json:"duration_seconds"`
	InitialOffer    string `json:"initial_offer"`
	Proportion      string `json:"proportion"`
}

func (e *LineSet) EventType() Type      { return TypeLineSet }
func (e *LineSet) VaultID() string      { return "" }
func (e *LineSet) CollateralID() string { return e.Collateral }

// LimitSet is emitted when an authorized caller replaces an exposure cap.
type LimitSet struct {
	Collateral string `json:"collateral"`
	Base       string `json:"base"`
	Max        string `json:"max"`
}

func (e *LimitSet) EventType() Type      { return TypeLimitSet }
func (e *LimitSet) VaultID() string      { return "" }
func (e *LimitSet) CollateralID() string { return e.Collateral }
