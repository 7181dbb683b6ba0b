package locator

// Point represents a 2D coordinate in meters (engine space)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Beacon is a fixed BLE transmitter with a known position and calibration
type Beacon struct {
	ID                string  `json:"id"`
	Name              string  `json:"name,omitempty"`
	Room              string  `json:"room,omitempty"`
	Position          Point   `json:"position"`
	ReferenceRSSIAt1m float64 `json:"referenceRssiAt1m"`
	PathLossExponent  float64 `json:"pathLossExponent"`
}

// BeaconObservation is one RSSI sample reported by the collar scanner
type BeaconObservation struct {
	BeaconID    string `json:"beaconId"`
	RSSI        int    `json:"rssi"`
	TimestampMs int64  `json:"timestampMs"`
}

// WeightedDistance is a range estimate to a beacon with its reliability weight.
// It only lives for the duration of a single solve.
type WeightedDistance struct {
	BeaconID       string  `json:"beaconId"`
	Position       Point   `json:"position"`
	DistanceMeters float64 `json:"distanceMeters"`
	Weight         float64 `json:"weight"` // 0..1
}

// SolveMethod records which solver path produced an estimate
type SolveMethod string

const (
	MethodMultilateration SolveMethod = "multilateration"
	MethodCentroid        SolveMethod = "centroid"
	MethodDegenerate      SolveMethod = "degenerate"
)

// PositionEstimate is the raw output of one solve
type PositionEstimate struct {
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Confidence  float64     `json:"confidence"` // 0..100
	BeaconsUsed int         `json:"beaconsUsed"`
	TimestampMs int64       `json:"timestampMs"`
	Method      SolveMethod `json:"method"`
	Residual    float64     `json:"residual"` // weighted RMS range error, meters
	Iterations  int         `json:"iterations"`
}

// SmoothedPosition is the stabilized per-collar output
type SmoothedPosition struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Confidence  int     `json:"confidence"` // 0..100
	Valid       bool    `json:"valid"`
	TimestampMs int64   `json:"timestampMs"`
	TrackID     string  `json:"trackId,omitempty"`
}

// EngineConfig holds the tunable positioning constants.
// Zero values are replaced by DefaultEngineConfig values before validation.
type EngineConfig struct {
	PathLossExponent   float64 `yaml:"pathLossExponent" json:"pathLossExponent" validate:"gt=0,lte=10"`
	ReferenceRSSIAt1m  float64 `yaml:"referenceRssiAt1m" json:"referenceRssiAt1m" validate:"gte=-120,lt=0"`
	SmoothingAlpha     float64 `yaml:"smoothingAlpha" json:"smoothingAlpha" validate:"gt=0,lte=1"`
	MaxSpeedMps        float64 `yaml:"maxSpeedMps" json:"maxSpeedMps" validate:"gt=0"`
	StaleObservationMs int64   `yaml:"staleObservationMs" json:"staleObservationMs" validate:"gt=0"`
	LostTrackTimeoutMs int64   `yaml:"lostTrackTimeoutMs" json:"lostTrackTimeoutMs" validate:"gt=0"`
	MinBeaconsForSolve int     `yaml:"minBeaconsForSolve" json:"minBeaconsForSolve" validate:"gte=3"`
	MinRSSI            int     `yaml:"minRssi" json:"minRssi" validate:"ltfield=MaxRSSI"`
	MaxRSSI            int     `yaml:"maxRssi" json:"maxRssi" validate:"lte=0"`
	MinDistance        float64 `yaml:"minDistance" json:"minDistance" validate:"gt=0,ltfield=MaxDistance"`
	MaxDistance        float64 `yaml:"maxDistance" json:"maxDistance" validate:"gt=0"`
	WeightFloor        float64 `yaml:"weightFloor" json:"weightFloor" validate:"gt=0,lt=1"`
	MaxIterations      int     `yaml:"maxIterations" json:"maxIterations" validate:"gt=0,lte=200"`
	ConvergenceEpsilon float64 `yaml:"convergenceEpsilon" json:"convergenceEpsilon" validate:"gt=0"`
	HistorySize        int     `yaml:"historySize" json:"historySize" validate:"gt=0"`
}

// BeaconConfig defines a beacon in the config file.
// Calibration fields fall back to the engine defaults when omitted.
type BeaconConfig struct {
	ID                string   `yaml:"id" json:"id" validate:"required"`
	Name              string   `yaml:"name,omitempty" json:"name,omitempty"`
	Room              string   `yaml:"room,omitempty" json:"room,omitempty"`
	X                 float64  `yaml:"x" json:"x"`
	Y                 float64  `yaml:"y" json:"y"`
	ReferenceRSSIAt1m *float64 `yaml:"referenceRssiAt1m,omitempty" json:"referenceRssiAt1m,omitempty"`
	PathLossExponent  *float64 `yaml:"pathLossExponent,omitempty" json:"pathLossExponent,omitempty"`
}

// CollarConfig defines a tracked collar and the topic its scans arrive on
type CollarConfig struct {
	ID    string `yaml:"id" json:"id" validate:"required"`
	Topic string `yaml:"topic" json:"topic" validate:"required"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// ZoneConfig defines a named area on the floor plan
type ZoneConfig struct {
	ID     string       `yaml:"id" json:"id" validate:"required"`
	Name   string       `yaml:"name,omitempty" json:"name,omitempty"`
	Type   string       `yaml:"type" json:"type" validate:"omitempty,oneof=safe restricted alert"`
	Shape  string       `yaml:"shape" json:"shape" validate:"required,oneof=circle rectangle polygon"`
	Center *Point       `yaml:"center,omitempty" json:"center,omitempty"`
	Radius float64      `yaml:"radius,omitempty" json:"radius,omitempty" validate:"gte=0"`
	Width  float64      `yaml:"width,omitempty" json:"width,omitempty" validate:"gte=0"`
	Height float64      `yaml:"height,omitempty" json:"height,omitempty" validate:"gte=0"`
	Points [][2]float64 `yaml:"points,omitempty" json:"points,omitempty"`
}

// FloorPlanConfig describes the rectangle covered by the floor plan image.
// When the bounds are all zero they are derived from the beacon layout.
type FloorPlanConfig struct {
	MinX         float64 `yaml:"minX" json:"minX"`
	MinY         float64 `yaml:"minY" json:"minY"`
	MaxX         float64 `yaml:"maxX" json:"maxX"`
	MaxY         float64 `yaml:"maxY" json:"maxY"`
	TargetAspect float64 `yaml:"targetAspect,omitempty" json:"targetAspect,omitempty" validate:"gte=0"`
	FlipY        bool    `yaml:"flipY,omitempty" json:"flipY,omitempty"`
	GridSpacing  float64 `yaml:"gridSpacing,omitempty" json:"gridSpacing,omitempty" validate:"gte=0"` // meters, default 1
	Padding      float64 `yaml:"padding,omitempty" json:"padding,omitempty" validate:"gte=0"`         // meters added around derived bounds
}

// HasBounds returns true if an explicit rectangle was configured
func (fp FloorPlanConfig) HasBounds() bool {
	return fp.MinX != 0 || fp.MinY != 0 || fp.MaxX != 0 || fp.MaxY != 0
}

// Config represents the full configuration file
type Config struct {
	MQTT        MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Engine      EngineConfig    `yaml:"engine" json:"engine"`
	FloorPlan   FloorPlanConfig `yaml:"floorPlan" json:"floorPlan"`
	RegistryURL string          `yaml:"registryUrl,omitempty" json:"registryUrl,omitempty" validate:"omitempty,url"`
	Beacons     []BeaconConfig  `yaml:"beacons" json:"beacons" validate:"dive"`
	Collars     []CollarConfig  `yaml:"collars" json:"collars" validate:"dive"`
	Zones       []ZoneConfig    `yaml:"zones,omitempty" json:"zones,omitempty" validate:"dive"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// GetCollarByID returns the collar config for the given ID
func (c *Config) GetCollarByID(id string) *CollarConfig {
	for i := range c.Collars {
		if c.Collars[i].ID == id {
			return &c.Collars[i]
		}
	}
	return nil
}
