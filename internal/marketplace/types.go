package marketplace

import "encoding/json"

// Attribute names the engine understands on targets and competing orders.
// Everything else on a target's attribute list is carried through opaquely.
const (
	attrPhase     = "phase"
	attrFloatPart = "floatPartValue"
	attrPaintSeed = "paintSeed"
)

// flexString decodes JSON strings and bare numbers alike; the marketplace is
// not consistent about which one attribute values and prices arrive as.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

type listTargetsResponse struct {
	Items []targetItem `json:"Items"`
}

type targetItem struct {
	TargetID   string        `json:"TargetID"`
	Title      string        `json:"Title"`
	Amount     flexString    `json:"Amount"`
	Price      moneyAmount   `json:"Price"`
	Attributes []attributeKV `json:"Attributes"`
}

type moneyAmount struct {
	Currency string     `json:"Currency"`
	Amount   flexString `json:"Amount"`
}

type attributeKV struct {
	Name  string     `json:"Name"`
	Value flexString `json:"Value"`
}

type ordersResponse struct {
	Orders []orderItem `json:"orders"`
}

type orderItem struct {
	Price      flexString `json:"price"` // minor units
	Attributes orderAttrs `json:"attributes"`
}

type orderAttrs struct {
	Phase          flexString `json:"phase"`
	FloatPartValue flexString `json:"floatPartValue"`
	PaintSeed      flexString `json:"paintSeed"`
}

type deleteTargetsRequest struct {
	Targets []deleteTargetRef `json:"Targets"`
}

type deleteTargetRef struct {
	TargetID string `json:"TargetID"`
}

type createTargetsRequest struct {
	GameID  string             `json:"GameID"`
	Targets []createTargetBody `json:"Targets"`
}

type createTargetBody struct {
	Amount string            `json:"Amount"`
	Price  createPrice       `json:"Price"`
	Title  string            `json:"Title"`
	Attrs  map[string]string `json:"Attrs,omitempty"`
}

type createPrice struct {
	Currency string      `json:"Currency"`
	Amount   json.Number `json:"Amount"`
}
