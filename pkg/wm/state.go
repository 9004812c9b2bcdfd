package wm

import (
	"errors"
	"fmt"
)

// WindowState represents the current state of a window.
type WindowState int

const (
	// WindowStateNormal indicates the window is in its normal state.
	WindowStateNormal WindowState = iota
	// WindowStateMinimized indicates the window is minimized.
	WindowStateMinimized
	// WindowStateMaximized indicates the window covers the screen.
	WindowStateMaximized
)

// String returns a string representation of the window state.
func (s WindowState) String() string {
	switch s {
	case WindowStateNormal:
		return "normal"
	case WindowStateMinimized:
		return "minimized"
	case WindowStateMaximized:
		return "maximized"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s WindowState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Frame represents the position and dimensions of a window.
type Frame struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains checks if a point is within the frame.
func (f Frame) Contains(x, y int) bool {
	return x >= f.X && x <= f.X+f.Width &&
		y >= f.Y && y <= f.Y+f.Height
}

// Window is a snapshot of one window.
type Window struct {
	ID           int         `json:"id"`
	Owner        int         `json:"owner"`
	Title        string      `json:"title"`
	Frame        Frame       `json:"frame"`
	NormalFrame  Frame       `json:"normalFrame"`
	State        WindowState `json:"state"`
	Resizable    bool        `json:"resizable"`
	MenubarItems []string    `json:"menubarItems,omitempty"`
	Desktop      int         `json:"desktop"`
	Visible      bool        `json:"visible"`
	Focused      bool        `json:"focused"`
}

// Desktop represents a virtual desktop.
type Desktop struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Windows []int  `json:"windows"`
}

func newDesktop(id int) *Desktop {
	return &Desktop{ID: id, Name: fmt.Sprintf("Desktop %d", id+1)}
}

func (d *Desktop) remove(id int) {
	for i, wid := range d.Windows {
		if wid == id {
			d.Windows = append(d.Windows[:i], d.Windows[i+1:]...)
			return
		}
	}
}

// SnapPosition represents where a window should be snapped.
type SnapPosition string

const (
	SnapLeft        SnapPosition = "left"
	SnapRight       SnapPosition = "right"
	SnapTop         SnapPosition = "top"
	SnapBottom      SnapPosition = "bottom"
	SnapTopLeft     SnapPosition = "topLeft"
	SnapTopRight    SnapPosition = "topRight"
	SnapBottomLeft  SnapPosition = "bottomLeft"
	SnapBottomRight SnapPosition = "bottomRight"
)

// snapFrame returns the frame for position on a screen of the given size.
func snapFrame(position SnapPosition, width, height int) (Frame, bool) {
	halfW, halfH := width/2, height/2
	switch position {
	case SnapLeft:
		return Frame{X: 0, Y: 0, Width: halfW, Height: height}, true
	case SnapRight:
		return Frame{X: halfW, Y: 0, Width: halfW, Height: height}, true
	case SnapTop:
		return Frame{X: 0, Y: 0, Width: width, Height: halfH}, true
	case SnapBottom:
		return Frame{X: 0, Y: halfH, Width: width, Height: halfH}, true
	case SnapTopLeft:
		return Frame{X: 0, Y: 0, Width: halfW, Height: halfH}, true
	case SnapTopRight:
		return Frame{X: halfW, Y: 0, Width: halfW, Height: halfH}, true
	case SnapBottomLeft:
		return Frame{X: 0, Y: halfH, Width: halfW, Height: halfH}, true
	case SnapBottomRight:
		return Frame{X: halfW, Y: halfH, Width: halfW, Height: halfH}, true
	}
	return Frame{}, false
}

// Errors returned by the manager.
var (
	ErrWindowNotFound      = errors.New("window not found")
	ErrWindowClosed        = errors.New("window closed")
	ErrInvalidDesktopIndex = errors.New("invalid desktop index")
	ErrNotResizable        = errors.New("window is not resizable")
	ErrInvalidSnap         = errors.New("invalid snap position")
	ErrUnknownMenuItem     = errors.New("window has no such menu item")
)
