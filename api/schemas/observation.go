package schemas

// Default vitals used whenever a backend does not report a usable value.
const (
	DefaultHealth = 20.0
	DefaultFood   = 20.0
)

// Default frame resolution (height x width) of the first-person view.
const (
	DefaultFrameHeight = 360
	DefaultFrameWidth  = 640
)

// MaxFrameDimension bounds the height and width of any frame or decoded image.
const MaxFrameDimension = 8192

// Frame is a packed RGB raster. Pix holds Height*Width*3 bytes, row major.
type Frame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pix    []byte `json:"-"`
}

// NewBlackFrame returns an all-black frame of the given resolution.
func NewBlackFrame(height, width int) Frame {
	if height <= 0 || width <= 0 || height > MaxFrameDimension || width > MaxFrameDimension {
		return Frame{}
	}
	return Frame{Width: width, Height: height, Pix: make([]byte, height*width*3)}
}

// Valid reports whether the pixel buffer matches the declared dimensions.
func (f Frame) Valid() bool {
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxFrameDimension || f.Height > MaxFrameDimension {
		return false
	}
	return len(f.Pix) == f.Width*f.Height*3
}

// Vec3 is a world-space position.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ItemStack is one inventory entry.
type ItemStack struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Slot  int    `json:"slot,omitempty"`
}

// Entity is a nearby world entity as reported by the backend.
type Entity struct {
	Type     string   `json:"type"`
	Position Vec3     `json:"position"`
	Distance *float64 `json:"distance,omitempty"`
}

// Observation is the canonical, backend-agnostic snapshot the control loop operates on.
type Observation struct {
	Frame     Frame       `json:"-"`
	Inventory []ItemStack `json:"inventory"`
	Position  Vec3        `json:"position"`
	Yaw       float64     `json:"yaw"`
	Pitch     float64     `json:"pitch"`
	Health    float64     `json:"health"`
	Food      float64     `json:"food"`
	Entities  []Entity    `json:"entities"`

	// Backend extras. Empty when the backend does not report them.
	EquippedItems map[string]any `json:"equipped_items,omitempty"`
	TimeOfDay     float64        `json:"time_of_day,omitempty"`
	GameMode      string         `json:"game_mode,omitempty"`
}
