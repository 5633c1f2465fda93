// Package compose lays out drawn items as a collage plan for the image
// rasteriser.
package compose

import (
	"errors"
	"fmt"
	"math"
)

// Layout names a collage arrangement.
type Layout string

const (
	LayoutRow          Layout = "row"
	LayoutGrid3x3      Layout = "3x3"
	LayoutGrandTableau Layout = "gt"
	LayoutCross        Layout = "cross"
	LayoutWheel        Layout = "wheel"
	LayoutBanner       Layout = "banner"
)

// PlanVersion identifies the plan format.
const PlanVersion = "1"

var (
	ErrNoCards       = errors.New("compose: no cards provided")
	ErrUnknownLayout = errors.New("compose: unknown layout")
	ErrCardCount     = errors.New("compose: wrong number of cards for layout")
)

// Card is one image to place.
type Card struct {
	Key      string
	File     string
	Caption  string
	Reversed bool
	// Angle in degrees, used by LayoutWheel only.
	Angle float64
}

// Cell is a placed card. Rotation is 0 or 180.
type Cell struct {
	Index    int     `json:"index"`
	Key      string  `json:"key,omitempty"`
	File     string  `json:"file,omitempty"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Rotation int     `json:"rotation"`
	Caption  string  `json:"caption,omitempty"`
	CaptionX int     `json:"caption_x,omitempty"`
	CaptionY int     `json:"caption_y,omitempty"`
	Angle    float64 `json:"angle,omitempty"`
}

// Plan is a complete collage description.
type Plan struct {
	Version    string `json:"version"`
	Layout     Layout `json:"layout"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	CardWidth  int    `json:"card_width"`
	CardHeight int    `json:"card_height"`
	Spacing    int    `json:"spacing"`
	Background string `json:"background"`
	Frame      string `json:"frame,omitempty"`
	Watermark  string `json:"watermark,omitempty"`
	// Base is the asset directory that cell files are relative to.
	Base  string `json:"base,omitempty"`
	Title string `json:"title,omitempty"`
	Cells []Cell `json:"cells"`
}

// Options tune the geometry. Zero values take defaults; a negative Spacing
// means none.
type Options struct {
	CardWidth     int
	CardHeight    int
	Spacing       int
	CaptionHeight int
	Frame         string
	Watermark     string
	Base          string
	Title         string
}

const (
	DefaultCardWidth     = 300
	DefaultCardHeight    = 500
	DefaultSpacing       = 10
	DefaultCaptionHeight = 16
	captionGap           = 5
	bannerWidth          = 1200
	bannerHeight         = 630
)

func (o Options) withDefaults() Options {
	if o.CardWidth <= 0 {
		o.CardWidth = DefaultCardWidth
	}
	if o.CardHeight <= 0 {
		o.CardHeight = DefaultCardHeight
	}
	if o.Spacing < 0 {
		o.Spacing = 0
	} else if o.Spacing == 0 {
		o.Spacing = DefaultSpacing
	}
	if o.CaptionHeight <= 0 {
		o.CaptionHeight = DefaultCaptionHeight
	}
	return o
}

// cross positions in grid (col, row): center, top, right, bottom, left
var crossGrid = [5][2]int{{1, 1}, {1, 0}, {2, 1}, {1, 2}, {0, 1}}

// Arrange places cards according to layout.
func Arrange(cards []Card, layout Layout, opts Options) (*Plan, error) {
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	opts = opts.withDefaults()

	capExtra := 0
	for _, c := range cards {
		if c.Caption != "" {
			capExtra = opts.CaptionHeight + captionGap
			break
		}
	}
	cellW := opts.CardWidth
	cellH := opts.CardHeight + capExtra
	step := func(col, row int) (int, int) {
		return col * (cellW + opts.Spacing), row * (cellH + opts.Spacing)
	}

	var cols, rows int
	var grid [][2]int
	switch layout {
	case LayoutRow:
		cols, rows = len(cards), 1
		for i := range cards {
			grid = append(grid, [2]int{i, 0})
		}
	case LayoutGrid3x3:
		if len(cards) != 9 {
			return nil, fmt.Errorf("%w: 3x3 grid requires 9 cards, got %d", ErrCardCount, len(cards))
		}
		cols, rows = 3, 3
		grid = rowMajor(cols, rows)
	case LayoutGrandTableau:
		if len(cards) != 36 {
			return nil, fmt.Errorf("%w: grand tableau requires 36 cards, got %d", ErrCardCount, len(cards))
		}
		cols, rows = 9, 4
		grid = rowMajor(cols, rows)
	case LayoutCross:
		if len(cards) != 5 {
			return nil, fmt.Errorf("%w: cross requires 5 cards, got %d", ErrCardCount, len(cards))
		}
		cols, rows = 3, 3
		grid = crossGrid[:]
	case LayoutWheel:
		return wheel(cards, opts), nil
	case LayoutBanner:
		if len(cards) != 1 {
			return nil, fmt.Errorf("%w: banner requires 1 card, got %d", ErrCardCount, len(cards))
		}
		return banner(cards[0], opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}

	plan := newPlan(layout, opts)
	plan.Width = cols*cellW + (cols-1)*opts.Spacing
	plan.Height = rows*cellH + (rows-1)*opts.Spacing
	for i, c := range cards {
		x, y := step(grid[i][0], grid[i][1])
		plan.Cells = append(plan.Cells, place(i, c, x, y, opts))
	}
	return plan, nil
}

// Blank returns an empty single-card canvas.
func Blank(opts Options) *Plan {
	opts = opts.withDefaults()
	plan := newPlan(LayoutRow, opts)
	plan.Width, plan.Height = opts.CardWidth, opts.CardHeight
	return plan
}

func newPlan(layout Layout, opts Options) *Plan {
	return &Plan{
		Version:    PlanVersion,
		Layout:     layout,
		CardWidth:  opts.CardWidth,
		CardHeight: opts.CardHeight,
		Spacing:    opts.Spacing,
		Background: "#ffffff",
		Frame:      opts.Frame,
		Watermark:  opts.Watermark,
		Base:       opts.Base,
		Title:      opts.Title,
	}
}

func place(i int, c Card, x, y int, opts Options) Cell {
	cell := Cell{
		Index:  i,
		Key:    c.Key,
		File:   c.File,
		X:      x,
		Y:      y,
		Width:  opts.CardWidth,
		Height: opts.CardHeight,
	}
	if c.Reversed {
		cell.Rotation = 180
	}
	if c.Caption != "" {
		cell.Caption = c.Caption
		cell.CaptionX = x + opts.CardWidth/2
		cell.CaptionY = y + opts.CardHeight + captionGap
	}
	return cell
}

func rowMajor(cols, rows int) [][2]int {
	out := make([][2]int, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, [2]int{c, r})
		}
	}
	return out
}

// wheel places square markers on a circle; angle 0 is at the top and angles
// grow clockwise.
func wheel(cards []Card, opts Options) *Plan {
	size := opts.CardWidth
	marker := size / 10
	if marker < 1 {
		marker = 1
	}
	radius := float64(size)/2 - float64(marker)
	center := float64(size) / 2

	plan := newPlan(LayoutWheel, opts)
	plan.Width, plan.Height = size, size
	plan.CardWidth, plan.CardHeight = marker, marker
	for i, c := range cards {
		rad := c.Angle * math.Pi / 180
		cx := center + radius*math.Sin(rad)
		cy := center - radius*math.Cos(rad)
		plan.Cells = append(plan.Cells, Cell{
			Index:   i,
			Key:     c.Key,
			File:    c.File,
			X:       int(math.Round(cx)) - marker/2,
			Y:       int(math.Round(cy)) - marker/2,
			Width:   marker,
			Height:  marker,
			Caption: c.Caption,
			Angle:   c.Angle,
		})
	}
	return plan
}

func banner(c Card, opts Options) *Plan {
	plan := newPlan(LayoutBanner, opts)
	plan.Width, plan.Height = bannerWidth, bannerHeight
	plan.CardWidth, plan.CardHeight = bannerWidth, bannerHeight
	plan.Spacing = 0
	cell := Cell{Key: c.Key, File: c.File, Width: bannerWidth, Height: bannerHeight}
	if c.Caption != "" {
		cell.Caption = c.Caption
		cell.CaptionX = bannerWidth / 2
		cell.CaptionY = bannerHeight / 2
	}
	plan.Cells = []Cell{cell}
	return plan
}
