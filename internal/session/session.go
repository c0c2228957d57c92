// Package session drives the interactive mode loop: menu, preset selection,
// manual request entry, and the live notification view.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	rpcprobe "github.com/rpcprobe/rpcprobe"
	"github.com/rpcprobe/rpcprobe/internal/console"
	"github.com/rpcprobe/rpcprobe/internal/rpc"
)

// Mode is the session's interactive state.
type Mode int

const (
	ModeMenu Mode = iota
	ModeSelectPreset
	ModeManualMethod
	ModeManualParamName
	ModeManualParamValue
	ModeWatchNotify
)

var menuEntries = []string{
	"List API Request Presets",
	"Select API Request Preset",
	"Manual API Entry",
	"Start Notification View",
}

// Caller issues one request and awaits the matching response.
type Caller interface {
	Call(ctx context.Context, method string, params map[string]any) (*rpcprobe.Envelope, error)
}

// Notifier installs or detaches the notification sink.
type Notifier interface {
	SetNotifySink(fn func(*rpcprobe.Envelope))
}

// param is one manual-entry parameter. A nil value means the name has been
// entered but its value is still pending.
type param struct {
	name  string
	value any
}

// draft is a request under interactive construction, one field at a time.
type draft struct {
	method string
	params []param
}

func (d *draft) paramMap() map[string]any {
	if len(d.params) == 0 {
		return nil
	}
	m := make(map[string]any, len(d.params))
	for _, p := range d.params {
		m[p.name] = p.value
	}
	return m
}

// Session owns the mode state and the manual-entry draft. It consumes lines
// from the console and responses from the caller, and emits prompts and
// printouts.
type Session struct {
	caller  Caller
	notify  Notifier
	con     *console.Console
	presets []rpcprobe.Preset

	mode     Mode
	needHelp bool
	draft    draft
}

// New creates a session starting at the main menu.
func New(caller Caller, notify Notifier, con *console.Console, presets []rpcprobe.Preset) *Session {
	return &Session{
		caller:   caller,
		notify:   notify,
		con:      con,
		presets:  presets,
		mode:     ModeMenu,
		needHelp: true,
	}
}

// Mode returns the current interactive state.
func (s *Session) Mode() Mode {
	return s.mode
}

// Run drives the mode loop until the input ends (io.EOF), ctx is cancelled,
// or the connection fails. User-input errors never escape; they are
// reported inline and the loop re-prompts.
func (s *Session) Run(ctx context.Context) error {
	for {
		var err error
		switch s.mode {
		case ModeMenu:
			if s.needHelp {
				s.needHelp = false
				s.printHelp()
			}
			err = s.menu(ctx)
		case ModeSelectPreset:
			err = s.selectPreset(ctx)
		case ModeManualMethod, ModeManualParamName, ModeManualParamValue:
			err = s.manualEntry(ctx)
		case ModeWatchNotify:
			err = s.watchNotify(ctx)
		default:
			return fmt.Errorf("invalid session mode %d", s.mode)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) menu(ctx context.Context) error {
	req, err := s.con.ReadLine(ctx, "Menu Index (? for Help): ")
	if err != nil {
		return err
	}
	switch req {
	case "1":
		s.printPresets()
	case "2":
		s.mode = ModeSelectPreset
	case "3":
		s.draft = draft{}
		s.mode = ModeManualMethod
	case "4":
		s.mode = ModeWatchNotify
	default:
		if req != "?" {
			s.con.Println("Invalid Entry: " + req)
		}
		s.printHelp()
	}
	return nil
}

func (s *Session) selectPreset(ctx context.Context) error {
	req, err := s.con.ReadLine(ctx, "Preset Index (Press Enter to return to main menu): ")
	if err != nil {
		return err
	}
	if req == "" {
		s.toMenu()
		return nil
	}
	idx, convErr := strconv.Atoi(req)
	if convErr != nil || idx < 1 {
		s.con.Println("Error: invalid selection " + req)
		return nil
	}
	if idx > len(s.presets) {
		s.con.Printf("Error: Preset index %d out of range.\n", idx)
		return nil
	}
	preset := s.presets[idx-1]
	if !preset.Valid() {
		s.con.Printf("Error: Invalid Preset %s\n", formatParams(preset.Params))
		return nil
	}
	return s.roundTrip(ctx, preset.Method, preset.Params)
}

func (s *Session) manualEntry(ctx context.Context) error {
	switch s.mode {
	case ModeManualMethod:
		req, err := s.con.ReadLine(ctx, "Method Name (Press Enter to return to main menu): ")
		if err != nil {
			return err
		}
		if req == "" {
			s.draft = draft{}
			s.toMenu()
			return nil
		}
		s.draft.method = req
		s.mode = ModeManualParamName

	case ModeManualParamName:
		req, err := s.con.ReadLine(ctx, "Parameter Name (Press Enter to send request): ")
		if err != nil {
			return err
		}
		if req == "" {
			method, params := s.draft.method, s.draft.paramMap()
			s.draft = draft{}
			s.mode = ModeManualMethod
			return s.roundTrip(ctx, method, params)
		}
		s.draft.params = append(s.draft.params, param{name: req})
		s.mode = ModeManualParamValue

	case ModeManualParamValue:
		if len(s.draft.params) == 0 {
			s.mode = ModeManualParamName
			return nil
		}
		last := &s.draft.params[len(s.draft.params)-1]
		req, err := s.con.ReadLine(ctx, fmt.Sprintf("Parameter '%s' Value: ", last.name))
		if err != nil {
			return err
		}
		if req == "" {
			s.con.Println("No value selected, removing parameter " + last.name)
			s.draft.params = s.draft.params[:len(s.draft.params)-1]
			s.mode = ModeManualParamName
			return nil
		}
		val, parseErr := ParseLiteral(req)
		if parseErr != nil {
			// Stay here so the user can retry the value.
			s.con.Printf("Error: invalid value %s: %v\n", req, parseErr)
			return nil
		}
		last.value = val
		s.mode = ModeManualParamName
	}
	return nil
}

func (s *Session) watchNotify(ctx context.Context) error {
	s.con.Println("Watching notifications, Press Enter to stop")
	s.notify.SetNotifySink(func(env *rpcprobe.Envelope) {
		s.con.Printf("Notification: %s\n\n", env.Display())
	})
	_, err := s.con.ReadLine(ctx, "")
	s.notify.SetNotifySink(nil)
	s.toMenu()
	return err
}

// roundTrip echoes the request, sends it, and prints the response.
// Connection loss propagates to end the session; a request timeout is
// reported inline and the session continues.
func (s *Session) roundTrip(ctx context.Context, method string, params map[string]any) error {
	echo := &rpcprobe.Envelope{Version: rpcprobe.ProtocolVersion, Method: method, Params: params}
	s.con.Println("Sending: " + echo.Display())
	resp, err := s.caller.Call(ctx, method, params)
	if err != nil {
		if errors.Is(err, rpc.ErrTimeout) {
			s.con.Println("Error: request timed out")
			return nil
		}
		return err
	}
	s.con.Printf("Response: %s\n\n", resp.Display())
	return nil
}

func (s *Session) toMenu() {
	s.mode = ModeMenu
	s.needHelp = true
}

func (s *Session) printHelp() {
	var b strings.Builder
	b.WriteString("\nMain Menu:\nIndex     Description")
	for i, desc := range menuEntries {
		fmt.Fprintf(&b, "\n%-10d%s", i+1, desc)
	}
	b.WriteString("\n?         Help (show this message)")
	b.WriteString("\nCTRL+C    Quit this application\n")
	s.con.Println(b.String())
}

func (s *Session) printPresets() {
	if len(s.presets) == 0 {
		s.con.Println("No API presets loaded")
		return
	}
	methodWidth := len("Method")
	for _, p := range s.presets {
		if n := len(displayMethod(p)); n > methodWidth {
			methodWidth = n
		}
	}
	methodWidth += 2

	width := s.con.Width()
	var b strings.Builder
	b.WriteString("\nAvailable API Presets\n")
	b.WriteString(truncate(fmt.Sprintf("Index     %-*s%s", methodWidth, "Method", "Params"), width))
	for i, p := range s.presets {
		row := fmt.Sprintf("%-10d%-*s%s", i+1, methodWidth, displayMethod(p), formatParams(p.Params))
		b.WriteString("\n" + truncate(row, width))
	}
	s.con.Println(b.String() + "\n")
}

func displayMethod(p rpcprobe.Preset) string {
	if !p.Valid() {
		return "invalid"
	}
	return p.Method
}

func formatParams(params map[string]any) string {
	if params == nil {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}

// truncate trims a display row to the terminal width.
func truncate(row string, width int) string {
	if width <= 0 || len(row) <= width {
		return row
	}
	return row[:width]
}
