package api

type AttributeVal struct {
	SpecId int    `json:"spec_id"`
	Value  string `json:"value"`
}

type LabeledImage struct {
	Id         *int           `json:"id,omitempty"`
	Frame      int            `json:"frame"`
	LabelId    int            `json:"label_id"`
	Group      *int           `json:"group"`
	Source     string         `json:"source"`
	Attributes []AttributeVal `json:"attributes"`
}

type LabeledShape struct {
	Id         *int           `json:"id,omitempty"`
	Type       string         `json:"type"`
	Occluded   bool           `json:"occluded"`
	Outside    bool           `json:"outside"`
	ZOrder     int            `json:"z_order"`
	Rotation   float64        `json:"rotation"`
	Points     []float64      `json:"points"`
	Frame      int            `json:"frame"`
	LabelId    int            `json:"label_id"`
	Group      *int           `json:"group"`
	Source     string         `json:"source"`
	Attributes []AttributeVal `json:"attributes"`
	Elements   []LabeledShape `json:"elements,omitempty"`
}

type TrackedShape struct {
	Id         *int           `json:"id,omitempty"`
	Type       string         `json:"type"`
	Occluded   bool           `json:"occluded"`
	Outside    bool           `json:"outside"`
	ZOrder     int            `json:"z_order"`
	Rotation   float64        `json:"rotation"`
	Points     []float64      `json:"points"`
	Frame      int            `json:"frame"`
	Attributes []AttributeVal `json:"attributes"`
}

type LabeledTrack struct {
	Id         *int           `json:"id,omitempty"`
	Frame      int            `json:"frame"`
	LabelId    int            `json:"label_id"`
	Group      *int           `json:"group"`
	Source     string         `json:"source"`
	Shapes     []TrackedShape `json:"shapes"`
	Attributes []AttributeVal `json:"attributes"`
	Elements   []LabeledTrack `json:"elements,omitempty"`
}

type LabeledData struct {
	Version int            `json:"version"`
	Tags    []LabeledImage `json:"tags"`
	Shapes  []LabeledShape `json:"shapes"`
	Tracks  []LabeledTrack `json:"tracks"`
}
