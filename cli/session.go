package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nathoo/lorekeep/engine"
	"github.com/nathoo/lorekeep/engine/save"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/types"
)

// Result is the output of one console line.
type Result struct {
	Output []string
	// System marks meta-command output.
	System bool
	Quit   bool
}

// Session is the console state shared by the line CLI and the TUI: the
// selected setting and item, and the command dispatcher over the engine.
type Session struct {
	Engine *engine.Engine
	// Setting scopes listings and type queries; 0 means none selected.
	Setting int64
	// Item and Nested address the node mutating commands act on.
	Item   int64
	Nested int64
	// Trace shows value origins in show output.
	Trace     bool
	ExportDir string

	lastCmd string
}

// NewSession creates a session with nothing selected.
func NewSession(eng *engine.Engine) *Session {
	return &Session{Engine: eng, Nested: types.RootNestedID, ExportDir: "."}
}

// Exec runs one console line. Lines starting with '/' are meta-commands;
// "again" or "g" repeats the last command.
func (s *Session) Exec(ctx context.Context, line string) Result {
	input := strings.TrimSpace(line)
	if input == "" {
		return Result{}
	}
	if strings.HasPrefix(input, "/") {
		out, quit := s.meta(ctx, input)
		return Result{Output: out, System: true, Quit: quit}
	}

	lower := strings.ToLower(input)
	if lower == "again" || lower == "g" {
		if s.lastCmd == "" {
			return Result{Output: []string{"Nothing to repeat."}, System: true}
		}
		input = s.lastCmd
	} else {
		s.lastCmd = input
	}

	out, err := s.command(ctx, input)
	if err != nil {
		out = append(out, "Error: "+err.Error())
	}
	return Result{Output: out}
}

func (s *Session) command(ctx context.Context, input string) ([]string, error) {
	verb, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(verb) {
	case "show", "s":
		return s.cmdShow(ctx, rest)
	case "rate", "r":
		return s.cmdRate(ctx, rest)
	case "list", "ls":
		return s.cmdList(ctx, rest)
	case "types":
		return s.cmdTypes(ctx)
	case "find":
		return s.cmdFind(ctx, args)
	case "select", "cd":
		return s.cmdSelect(ctx, rest)
	case "nested":
		return s.cmdNested(ctx, args)
	case "root":
		s.Nested = types.RootNestedID
		return s.cmdShow(ctx, "")
	case "new":
		return s.cmdNew(ctx, rest)
	case "delete":
		return s.cmdDelete(ctx, rest)
	case "extend":
		return s.cmdExtend(ctx, rest, true)
	case "unextend":
		return s.cmdExtend(ctx, rest, false)
	case "allow":
		return s.cmdAllow(ctx, rest, true)
	case "disallow":
		return s.cmdAllow(ctx, rest, false)
	case "set":
		return s.cmdSet(ctx, args, rest)
	case "meta":
		return s.cmdMeta(ctx, args)
	case "add":
		return s.cmdAdd(ctx, args, rest)
	case "rm", "mod", "up", "down":
		return s.cmdValue(ctx, strings.ToLower(verb), args)
	}
	return nil, fmt.Errorf("unknown command %q, type /help for a list", verb)
}

// target returns the selected node or an error when nothing is selected.
func (s *Session) target() (int64, int64, error) {
	if s.Item == 0 {
		return 0, 0, errors.New("no item selected, use select <item>")
	}
	return s.Item, s.Nested, nil
}

// lookup finds an item by "#id", a bare id, or its name within the current
// setting. An exact (case-insensitive) name wins over a single partial
// match.
func (s *Session) lookup(ctx context.Context, ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, errors.New("missing item")
	}
	if id, err := strconv.ParseInt(strings.TrimPrefix(ref, "#"), 10, 64); err == nil {
		return id, nil
	}
	names, err := s.Engine.List(ctx, s.Setting, storage.Filter{Query: ref})
	if err != nil {
		return 0, err
	}
	for _, n := range names {
		if strings.EqualFold(n.Name, ref) {
			return n.ID, nil
		}
	}
	switch len(names) {
	case 0:
		return 0, fmt.Errorf("no item named %q", ref)
	case 1:
		return names[0].ID, nil
	}
	return 0, fmt.Errorf("%q matches %d items, use #id", ref, len(names))
}

// itemOrSelected resolves ref, falling back to the selected item.
func (s *Session) itemOrSelected(ctx context.Context, ref string) (int64, int64, error) {
	if ref == "" {
		return s.target()
	}
	id, err := s.lookup(ctx, ref)
	return id, types.RootNestedID, err
}

func (s *Session) cmdShow(ctx context.Context, ref string) ([]string, error) {
	id, nested, err := s.itemOrSelected(ctx, ref)
	if err != nil {
		return nil, err
	}
	v, err := s.Engine.GetNested(ctx, id, nested)
	if err != nil {
		return nil, err
	}
	rate, err := s.Engine.RateTextNested(ctx, id, nested)
	if err != nil {
		return nil, err
	}
	return renderView(v, rate, s.Trace), nil
}

func (s *Session) cmdRate(ctx context.Context, ref string) ([]string, error) {
	id, nested, err := s.itemOrSelected(ctx, ref)
	if err != nil {
		return nil, err
	}
	rate, err := s.Engine.RateTextNested(ctx, id, nested)
	if err != nil {
		return nil, err
	}
	return []string{rate}, nil
}

func (s *Session) cmdList(ctx context.Context, query string) ([]string, error) {
	names, err := s.Engine.List(ctx, s.Setting, storage.Filter{Query: query})
	if err != nil {
		return nil, err
	}
	return renderNames(names), nil
}

func (s *Session) cmdTypes(ctx context.Context) ([]string, error) {
	if s.Setting == 0 {
		return nil, errors.New("no setting selected, use /setting <id>")
	}
	names, err := s.Engine.Types(ctx, s.Setting)
	if err != nil {
		return nil, err
	}
	return renderNames(names), nil
}

func (s *Session) cmdFind(ctx context.Context, args []string) ([]string, error) {
	if s.Setting == 0 {
		return nil, errors.New("no setting selected, use /setting <id>")
	}
	if len(args) == 0 {
		return nil, errors.New("usage: find <ancestor>...")
	}
	var ids []int64
	for _, a := range args {
		if strings.EqualFold(a, "type") {
			ids = append(ids, types.TypeType)
			continue
		}
		id, err := s.lookup(ctx, a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	names, err := s.Engine.ByAncestors(ctx, s.Setting, ids)
	if err != nil {
		return nil, err
	}
	return renderNames(names), nil
}

func (s *Session) cmdSelect(ctx context.Context, ref string) ([]string, error) {
	id, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, err := s.Engine.Get(ctx, id); err != nil {
		return nil, err
	}
	s.Item, s.Nested = id, types.RootNestedID
	return s.cmdShow(ctx, "")
}

func (s *Session) cmdNested(ctx context.Context, args []string) ([]string, error) {
	id, _, err := s.target()
	if err != nil {
		return nil, err
	}
	if len(args) != 1 {
		return nil, errors.New("usage: nested <n>")
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad nested id %q", args[0])
	}
	if _, err := s.Engine.GetNested(ctx, id, n); err != nil {
		return nil, err
	}
	s.Nested = n
	return s.cmdShow(ctx, "")
}

// cmdNew adds an item: new <name> [extends <parent>].
func (s *Session) cmdNew(ctx context.Context, rest string) ([]string, error) {
	if s.Setting == 0 {
		return nil, errors.New("no setting selected, use /setting <id>")
	}
	name, parent, hasParent := strings.Cut(rest, " extends ")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("usage: new <name> [extends <parent>]")
	}
	item := &types.Item{Name: name, SettingID: s.Setting}
	if hasParent {
		pid, err := s.lookup(ctx, parent)
		if err != nil {
			return nil, err
		}
		item.Extends = []types.Ref{{ID: pid}}
	}
	v, err := s.Engine.Add(ctx, item)
	if err != nil {
		return nil, err
	}
	s.Item, s.Nested = v.ID(), types.RootNestedID
	return []string{fmt.Sprintf("Created %s #%d.", v.CombinedName(), v.ID())}, nil
}

func (s *Session) cmdDelete(ctx context.Context, ref string) ([]string, error) {
	id, _, err := s.itemOrSelected(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.Engine.Remove(ctx, id); err != nil {
		return nil, err
	}
	if id == s.Item {
		s.Item, s.Nested = 0, types.RootNestedID
	}
	return []string{fmt.Sprintf("Deleted #%d.", id)}, nil
}

func (s *Session) cmdExtend(ctx context.Context, ref string, add bool) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	parent, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	var op = s.Engine.AddExtends
	if !add {
		op = s.Engine.RemoveExtends
	}
	if _, err := op(ctx, id, nested, parent); err != nil {
		return nil, err
	}
	return s.cmdShow(ctx, "")
}

func (s *Session) cmdAllow(ctx context.Context, ref string, add bool) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	ext, err := s.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if add {
		err = s.Engine.AddAllowedExtension(ctx, id, nested, ext)
	} else {
		err = s.Engine.RemoveAllowedExtension(ctx, id, nested, ext)
	}
	if err != nil {
		return nil, err
	}
	return []string{"OK."}, nil
}

// cmdSet changes one field of the selected node: set <field> <value>.
func (s *Session) cmdSet(ctx context.Context, args []string, rest string) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("usage: set <name|path|formula|description|groups|rank|type|final|setting> <value>")
	}
	field := strings.ToLower(args[0])
	value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))

	e := s.Engine
	switch field {
	case "name":
		err = e.SetName(ctx, id, nested, value)
	case "path":
		err = e.SetPath(ctx, id, nested, value)
	case "formula":
		err = e.SetFormula(ctx, id, nested, value)
	case "description":
		err = e.SetDescription(ctx, id, nested, value)
	case "groups":
		err = e.SetGroups(ctx, id, nested, splitList(value))
	case "rank":
		var rank int
		if rank, err = strconv.Atoi(value); err == nil {
			err = e.SetRank(ctx, id, nested, rank)
		}
	case "type", "final":
		var b bool
		if b, err = strconv.ParseBool(value); err == nil {
			if field == "type" {
				err = e.SetIsType(ctx, id, nested, b)
			} else {
				err = e.SetIsFinal(ctx, id, nested, b)
			}
		}
	case "setting":
		var sid int64
		if sid, err = strconv.ParseInt(value, 10, 64); err == nil {
			err = e.SetSetting(ctx, id, nested, sid)
		}
	default:
		return nil, fmt.Errorf("unknown field %q", args[0])
	}
	if err != nil {
		return nil, err
	}
	return s.cmdShow(ctx, "")
}

// builtinTypes maps type names accepted by meta to their ids.
var builtinTypes = map[string]int64{
	"nothing":  types.TypeNothing,
	"string":   types.TypeString,
	"positive": types.TypePositive,
	"int":      types.TypeInt,
	"decimal":  types.TypeDecimal,
	"boolean":  types.TypeBoolean,
	"type":     types.TypeType,
}

// cmdMeta edits metadata of the selected node:
//
//	meta add <attr> <type> [single] [required] [create] [reference]
//	meta rm|up|down <attr>
func (s *Session) cmdMeta(ctx context.Context, args []string) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errors.New("usage: meta add|rm|up|down <attr> ...")
	}
	op, attr := strings.ToLower(args[0]), args[1]
	e := s.Engine
	switch op {
	case "add":
		md := types.Metadata{AttributeName: attr, TypeID: types.TypeString}
		if len(args) > 2 {
			if md.TypeID, err = s.typeID(ctx, args[2]); err != nil {
				return nil, err
			}
		}
		for _, flag := range args[min(len(args), 3):] {
			switch strings.ToLower(flag) {
			case "single":
				md.IsSingle = true
			case "required":
				md.IsRequired = true
			case "create":
				md.AllowCreate = true
			case "reference":
				md.AllowReference = true
			default:
				return nil, fmt.Errorf("unknown flag %q", flag)
			}
		}
		err = e.AddMetadata(ctx, id, nested, md)
	case "rm":
		err = e.RemoveMetadata(ctx, id, nested, attr)
	case "up":
		err = e.MoveMetadataUp(ctx, id, nested, attr)
	case "down":
		err = e.MoveMetadataDown(ctx, id, nested, attr)
	default:
		return nil, fmt.Errorf("unknown meta operation %q", args[0])
	}
	if err != nil {
		return nil, err
	}
	return s.cmdShow(ctx, "")
}

func (s *Session) typeID(ctx context.Context, name string) (int64, error) {
	if id, ok := builtinTypes[strings.ToLower(name)]; ok {
		return id, nil
	}
	return s.lookup(ctx, name)
}

// cmdAdd appends a value to an attribute of the selected node:
//
//	add <attr> <text>       a scalar
//	add <attr> @<item>      a reference, or a nested copy of an abstract item
//	add <attr> new <item>   a nested item extending <item>
func (s *Session) cmdAdd(ctx context.Context, args []string, rest string) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, errors.New("usage: add <attr> <value> | @<item> | new <item>")
	}
	attr := args[0]
	value := strings.TrimSpace(strings.TrimPrefix(rest, attr))

	e := s.Engine
	switch {
	case strings.HasPrefix(value, "@"):
		target, err := s.lookup(ctx, value[1:])
		if err != nil {
			return nil, err
		}
		created, err := e.AddAttributeItemValue(ctx, id, nested, attr, target)
		if err != nil {
			return nil, err
		}
		if created != 0 {
			return []string{fmt.Sprintf("Added nested #%d.", created)}, nil
		}
	case strings.EqualFold(args[1], "new") && len(args) > 2:
		base, err := s.lookup(ctx, strings.TrimSpace(value[len("new"):]))
		if err != nil {
			return nil, err
		}
		created, err := e.AddAttributeNestedValue(ctx, id, nested, attr, base)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("Added nested #%d.", created)}, nil
	default:
		if err := e.AddAttributePrimitiveValue(ctx, id, nested, attr, value); err != nil {
			return nil, err
		}
	}
	return s.cmdShow(ctx, "")
}

// cmdValue handles rm|up|down <attr> <n> and mod <attr> <n> <value>, with n
// counting own values from 1.
func (s *Session) cmdValue(ctx context.Context, verb string, args []string) ([]string, error) {
	id, nested, err := s.target()
	if err != nil {
		return nil, err
	}
	if len(args) < 2 || (verb == "mod" && len(args) < 3) {
		if verb == "mod" {
			return nil, errors.New("usage: mod <attr> <n> <value>")
		}
		return nil, fmt.Errorf("usage: %s <attr> <n>", verb)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return nil, fmt.Errorf("bad value number %q", args[1])
	}
	attr, index := args[0], n-1

	e := s.Engine
	switch verb {
	case "rm":
		err = e.RemoveAttributeValue(ctx, id, nested, attr, index)
	case "mod":
		err = e.ModifyAttributePrimitiveValue(ctx, id, nested, attr, index, strings.Join(args[2:], " "))
	case "up":
		err = e.MoveAttributeValueUp(ctx, id, nested, attr, index)
	case "down":
		err = e.MoveAttributeValueDown(ctx, id, nested, attr, index)
	}
	if err != nil {
		return nil, err
	}
	return s.cmdShow(ctx, "")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// meta dispatches meta-commands. It reports whether the session should end.
func (s *Session) meta(ctx context.Context, input string) ([]string, bool) {
	parts := strings.Fields(input)
	cmd := parts[0]
	var arg string
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch cmd {
	case "/quit", "/exit":
		return []string{"Goodbye."}, true
	case "/help":
		return helpLines, false
	case "/setting":
		return s.metaSetting(ctx, arg), false
	case "/reindex":
		n, err := s.Engine.ReindexAll(ctx)
		if err != nil {
			return []string{fmt.Sprintf("Reindex failed: %v", err)}, false
		}
		return []string{fmt.Sprintf("Reindexed %d items.", n)}, false
	case "/export":
		return s.metaExport(ctx, arg), false
	case "/state":
		return s.metaState(ctx), false
	case "/trace":
		s.Trace = !s.Trace
		if s.Trace {
			return []string{"Trace output enabled."}, false
		}
		return []string{"Trace output disabled."}, false
	}
	return []string{fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)}, false
}

func (s *Session) metaSetting(ctx context.Context, arg string) []string {
	if arg == "" {
		if s.Setting == 0 {
			return []string{"No setting selected."}
		}
		arg = strconv.FormatInt(s.Setting, 10)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		return []string{fmt.Sprintf("Bad setting id %q.", arg)}
	}
	setting, err := s.Engine.Store().LoadSetting(ctx, id)
	if err != nil {
		return []string{fmt.Sprintf("Setting failed: %v", err)}
	}
	s.Setting = id
	return []string{fmt.Sprintf("Setting: %s #%d", setting.Name, setting.ID)}
}

func (s *Session) metaExport(ctx context.Context, name string) []string {
	if name == "" {
		name = "lorekeep-export"
	}
	dump, err := s.Engine.Export(ctx)
	if err != nil {
		return []string{fmt.Sprintf("Export failed: %v", err)}
	}
	data, err := save.Marshal(dump)
	if err != nil {
		return []string{fmt.Sprintf("Export failed: %v", err)}
	}
	if err := os.MkdirAll(s.ExportDir, 0o755); err != nil {
		return []string{fmt.Sprintf("Export failed: %v", err)}
	}
	path := filepath.Join(s.ExportDir, strings.TrimSuffix(name, ".json")+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return []string{fmt.Sprintf("Export failed: %v", err)}
	}
	return []string{fmt.Sprintf("Exported %d items to %s.", len(dump.Items), path)}
}

func (s *Session) metaState(ctx context.Context) []string {
	out := []string{fmt.Sprintf("Setting: %d", s.Setting)}
	if s.Item == 0 {
		return append(out, "Item: none")
	}
	label := fmt.Sprintf("#%d", s.Item)
	if v, err := s.Engine.Get(ctx, s.Item); err == nil {
		label = fmt.Sprintf("%s #%d", v.CombinedName(), s.Item)
	}
	out = append(out, "Item: "+label)
	if s.Nested != types.RootNestedID {
		out = append(out, fmt.Sprintf("Nested: #%d", s.Nested))
	}
	return out
}

var helpLines = []string{
	"System:",
	"  /setting [id]   Show or select the current setting",
	"  /reindex        Rebuild the type index",
	"  /export [name]  Write every item to <name>.json",
	"  /state          Show the current selection",
	"  /trace          Toggle value origins in show",
	"  /help           Show this help",
	"  /quit           Exit",
	"",
	"Items:",
	"  list [text]               List items of the setting",
	"  types                     List type items visible from the setting",
	"  find <item|type>...       List descendants of any of the items",
	"  show (s) [item]           Show an item, or the selection",
	"  rate (r) [item]           Rate an item, or the selection",
	"  select (cd) <item>        Select an item",
	"  nested <n> / root         Select a nested node / the root",
	"  new <name> [extends <p>]  Create an item in the setting",
	"  delete [item]             Delete an item",
	"",
	"Editing the selection:",
	"  extend / unextend <item>",
	"  allow / disallow <item>",
	"  set <field> <value>       name path formula description groups rank type final setting",
	"  meta add <attr> [type] [single] [required] [create] [reference]",
	"  meta rm|up|down <attr>",
	"  add <attr> <text> | @<item> | new <item>",
	"  rm|up|down <attr> <n>",
	"  mod <attr> <n> <text>",
	"  again (g)                 Repeat the last command",
}
