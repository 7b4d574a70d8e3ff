// Package parse turns the line-oriented program text format into a
// hostlang.Program: a META_START/META_END header, followed by named
// basic blocks of classical instructions, followed by SUBROUTINE/REQUEST
// sections. Grounded on the teacher's config-file line scanner pattern
// generalized from core/vm/config.go's simple key: value reading, and on
// the original text grammar in the Python reference implementation's
// line-based IqoalaMetaParser/IqoalaInstrParser, re-expressed as a single
// Go tokenizer plus recursive-descent block/section parser. Instruction
// value literals are parsed with holiman/uint256 the way the rest of the
// pack parses big/unsigned numeric literals from text; other integer
// fields (ids, jump targets, num_pairs, timeout) use strconv.
package parse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/qoala-sim/qoala/lang/hostlang"
)

// ParseError reports a line-anchored failure, the way a compiler error
// should: enough to point an author at the offending line.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: line %d: %s", e.Line, e.Msg)
}

func errAt(line int, format string, args ...any) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// scanner walks a program text's non-empty, trimmed lines, one at a
// time, tracking 1-based line numbers for error reporting.
type scanner struct {
	lines []string
	nos   []int
	pos   int
}

func newScanner(text string) *scanner {
	raw := strings.Split(text, "\n")
	var lines []string
	var nos []int
	for i, l := range raw {
		t := strings.TrimSpace(l)
		if t == "" {
			continue
		}
		lines = append(lines, t)
		nos = append(nos, i+1)
	}
	return &scanner{lines: lines, nos: nos}
}

func (s *scanner) done() bool { return s.pos >= len(s.lines) }

func (s *scanner) peek() (string, int, bool) {
	if s.done() {
		return "", 0, false
	}
	return s.lines[s.pos], s.nos[s.pos], true
}

func (s *scanner) next() (string, int, bool) {
	line, no, ok := s.peek()
	if ok {
		s.pos++
	}
	return line, no, ok
}

// Parse parses a full program text document into a hostlang.Program.
func Parse(text string) (hostlang.Program, error) {
	s := newScanner(text)

	meta, err := parseMeta(s)
	if err != nil {
		return hostlang.Program{}, err
	}

	prog := hostlang.Program{
		Meta:            meta,
		LocalRoutines:   make(map[string]hostlang.LocalRoutine),
		RequestRoutines: make(map[string]hostlang.RequestRoutine),
	}

	for !s.done() {
		line, no, _ := s.peek()
		switch {
		case strings.HasPrefix(line, "^"):
			block, err := parseBlock(s)
			if err != nil {
				return hostlang.Program{}, err
			}
			prog.Blocks = append(prog.Blocks, block)
		case line == "SUBROUTINE":
			s.next()
			routine, err := parseLocalRoutine(s)
			if err != nil {
				return hostlang.Program{}, err
			}
			prog.LocalRoutines[routine.Name] = routine
		case line == "REQUEST":
			s.next()
			routine, err := parseRequestRoutine(s)
			if err != nil {
				return hostlang.Program{}, err
			}
			prog.RequestRoutines[routine.Name] = routine
		default:
			return hostlang.Program{}, errAt(no, "unexpected line %q at top level", line)
		}
	}

	if err := prog.Validate(); err != nil {
		return hostlang.Program{}, err
	}
	return prog, nil
}

func parseMetaLine(s *scanner, key string) ([]string, error) {
	line, no, ok := s.next()
	if !ok {
		return nil, errAt(no, "expected %q line, reached end of text", key)
	}
	if strings.Count(line, ":") > 1 {
		return nil, errAt(no, "meta line must have a single colon")
	}
	parts := strings.SplitN(line, ":", 2)
	if parts[0] != key {
		return nil, errAt(no, "expected meta line to start with %q, found %q", key, parts[0])
	}
	if len(parts) == 1 || strings.TrimSpace(parts[1]) == "" {
		return nil, nil
	}
	var values []string
	for _, v := range strings.Split(parts[1], ",") {
		values = append(values, strings.TrimSpace(v))
	}
	return values, nil
}

func parseMetaMapping(no int, values []string) (map[int]string, error) {
	out := make(map[int]string)
	for _, v := range values {
		if strings.Count(v, "->") != 1 {
			return nil, errAt(no, "meta mapping entry %q must contain a single '->'", v)
		}
		parts := strings.SplitN(v, "->", 2)
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, errAt(no, "meta mapping id %q is not an integer", parts[0])
		}
		out[id] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

func parseMeta(s *scanner) (hostlang.ProgramMeta, error) {
	line, no, ok := s.next()
	if !ok || line != "META_START" {
		return hostlang.ProgramMeta{}, errAt(no, "program must start with META_START")
	}

	nameVals, err := parseMetaLine(s, "name")
	if err != nil {
		return hostlang.ProgramMeta{}, err
	}
	if len(nameVals) != 1 {
		return hostlang.ProgramMeta{}, errAt(no, "meta name must have exactly one value")
	}

	csocketVals, err := parseMetaLine(s, "csockets")
	if err != nil {
		return hostlang.ProgramMeta{}, err
	}
	csockets, err := parseMetaMapping(no, csocketVals)
	if err != nil {
		return hostlang.ProgramMeta{}, err
	}

	eprVals, err := parseMetaLine(s, "epr_sockets")
	if err != nil {
		return hostlang.ProgramMeta{}, err
	}
	eprSockets, err := parseMetaMapping(no, eprVals)
	if err != nil {
		return hostlang.ProgramMeta{}, err
	}

	line, no, ok = s.next()
	if !ok || line != "META_END" {
		return hostlang.ProgramMeta{}, errAt(no, "program meta must end with META_END")
	}

	return hostlang.ProgramMeta{Name: nameVals[0], CSockets: csockets, EPRSockets: eprSockets}, nil
}

// parseBlock parses one "^block_name {TYPE}" header followed by
// instruction lines, up to (but not including) the next block or
// section header.
func parseBlock(s *scanner) (hostlang.BasicBlock, error) {
	header, no, _ := s.next()
	name, typ, err := parseBlockHeader(header, no)
	if err != nil {
		return hostlang.BasicBlock{}, err
	}

	block := hostlang.BasicBlock{Name: name, Type: typ, Deadlines: map[int]int64{}}
	for {
		line, lno, ok := s.peek()
		if !ok || strings.HasPrefix(line, "^") || line == "SUBROUTINE" || line == "REQUEST" {
			break
		}
		s.next()
		instr, err := parseInstruction(line, lno, len(block.Instructions))
		if err != nil {
			return hostlang.BasicBlock{}, err
		}
		block.Instructions = append(block.Instructions, instr)
	}
	return block, nil
}

func parseBlockHeader(header string, no int) (string, hostlang.InstrType, error) {
	if !strings.HasPrefix(header, "^") {
		return "", 0, errAt(no, "block header must start with '^'")
	}
	open := strings.Index(header, "{")
	close := strings.Index(header, "}")
	if open < 0 || close < 0 || close < open {
		return "", 0, errAt(no, "block header must declare a type in braces, e.g. ^b0 {CL}")
	}
	name := strings.TrimSpace(header[1:open])
	typStr := strings.TrimSpace(header[open+1 : close])
	var typ hostlang.InstrType
	switch typStr {
	case "CL":
		typ = hostlang.CL
	case "CC":
		typ = hostlang.CC
	case "QL":
		typ = hostlang.QL
	case "QC":
		typ = hostlang.QC
	default:
		return "", 0, errAt(no, "unknown block type %q", typStr)
	}
	return name, typ, nil
}

// parseInstruction parses a single classical instruction line of the
// form "result = op(args) : attrs" (result/attrs optional).
func parseInstruction(line string, no, pc int) (hostlang.HostOp, error) {
	result := ""
	rest := line
	if idx := strings.Index(line, "="); idx >= 0 && !strings.HasPrefix(strings.TrimSpace(line), "beq") && !strings.HasPrefix(strings.TrimSpace(line), "bne") {
		result = strings.TrimSpace(line[:idx])
		rest = strings.TrimSpace(line[idx+1:])
	}

	attrPart := ""
	if idx := strings.Index(rest, ":"); idx >= 0 {
		attrPart = strings.TrimSpace(rest[idx+1:])
		rest = strings.TrimSpace(rest[:idx])
	}

	open := strings.Index(rest, "(")
	close := strings.LastIndex(rest, ")")
	if open < 0 || close < 0 || close < open {
		return nil, errAt(no, "instruction must be of the form op(args): %q", line)
	}
	op := strings.TrimSpace(rest[:open])
	argsStr := strings.TrimSpace(rest[open+1 : close])
	var args []string
	if argsStr != "" {
		for _, a := range strings.Split(argsStr, ",") {
			args = append(args, strings.TrimSpace(a))
		}
	}

	switch op {
	case "assign_cval":
		v, err := parseValue(attrPart, no)
		if err != nil {
			return nil, err
		}
		return hostlang.AssignCValueOp{Result: result, Val: v}, nil
	case "add_cval_c":
		if len(args) != 2 {
			return nil, errAt(no, "add_cval_c expects 2 arguments")
		}
		return hostlang.AddCValueOp{Result: result, A: args[0], B: args[1]}, nil
	case "mult_const":
		if len(args) != 1 {
			return nil, errAt(no, "mult_const expects 1 argument")
		}
		c, err := parseValue(attrPart, no)
		if err != nil {
			return nil, err
		}
		return hostlang.MultiplyConstOp{Result: result, Value: args[0], Const: c}, nil
	case "bcond_mult_const":
		if len(args) != 2 {
			return nil, errAt(no, "bcond_mult_const expects 2 arguments")
		}
		c, err := parseValue(attrPart, no)
		if err != nil {
			return nil, err
		}
		return hostlang.BitCondMultiplyConstOp{Result: result, Value: args[0], Cond: args[1], Const: c}, nil
	case "send_cmsg":
		if len(args) != 2 {
			return nil, errAt(no, "send_cmsg expects 2 arguments")
		}
		return hostlang.SendCMsgOp{CSocket: args[0], Value: args[1]}, nil
	case "recv_cmsg":
		if len(args) != 1 {
			return nil, errAt(no, "recv_cmsg expects 1 argument")
		}
		return hostlang.ReceiveCMsgOp{CSocket: args[0], Result: result}, nil
	case "run_subroutine":
		return hostlang.RunSubroutineOp{Result: parseResultVector(result), Args: parseArgsVector(args), SubRoutine: strings.Trim(attrPart, "\"")}, nil
	case "run_request":
		return hostlang.RunRequestOp{Result: parseResultVector(result), Args: parseArgsVector(args), Request: strings.Trim(attrPart, "\"")}, nil
	case "return_result":
		if len(args) != 1 {
			return nil, errAt(no, "return_result expects 1 argument")
		}
		return hostlang.ReturnResultOp{Value: args[0]}, nil
	case "busy_wait":
		v, err := parseValue(attrPart, no)
		if err != nil {
			return nil, err
		}
		return hostlang.BusyWaitOp{DurationNs: v.Int}, nil
	case "jmp":
		target, err := strconv.Atoi(attrPart)
		if err != nil {
			return nil, errAt(no, "jmp target must be an integer instruction index")
		}
		return hostlang.JumpOp{TargetPC: target}, nil
	case "beq", "bne", "blt", "bgt":
		if len(args) != 2 {
			return nil, errAt(no, "%s expects 2 arguments", op)
		}
		target, err := strconv.Atoi(attrPart)
		if err != nil {
			return nil, errAt(no, "%s target must be an integer instruction index", op)
		}
		kind := map[string]hostlang.BranchKind{
			"beq": hostlang.BranchEq, "bne": hostlang.BranchNe,
			"blt": hostlang.BranchLt, "bgt": hostlang.BranchGt,
		}[op]
		return hostlang.BranchOp{Kind: kind, A: args[0], B: args[1], TargetPC: target}, nil
	default:
		return nil, errAt(no, "unknown instruction %q", op)
	}
}

func parseResultVector(result string) hostlang.Vector {
	if result == "" {
		return hostlang.Vector{}
	}
	var names []string
	for _, n := range strings.Split(result, ";") {
		names = append(names, strings.TrimSpace(n))
	}
	return hostlang.Vector{Values: names}
}

func parseArgsVector(args []string) hostlang.Vector {
	return hostlang.Vector{Values: args}
}

// parseValue parses a literal decimal integer (via uint256; hex is not
// accepted, and the value kept is the low 64 bits as an int64) or a
// {template} placeholder.
func parseValue(s string, no int) (hostlang.Value, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return hostlang.TemplateValue(strings.TrimSpace(s[1 : len(s)-1])), nil
	}
	neg := strings.HasPrefix(s, "-")
	digits := s
	if neg {
		digits = s[1:]
	}
	u, err := uint256.FromDecimal(digits)
	if err != nil {
		return hostlang.Value{}, errAt(no, "invalid integer literal %q: %v", s, err)
	}
	v := int64(u.Uint64())
	if neg {
		v = -v
	}
	return hostlang.IntValue(v), nil
}

// parseLocalRoutine parses a SUBROUTINE section's "key: value" lines up
// to the next top-level header. The quantum instruction list itself is
// left empty here; RunLocalRoutine's gate sequence is supplied by the
// node's compiled hardware-specific routine table, not the portable
// program text (the original grammar embeds a netqasm-flavoured assembly
// blob at this point; that target ISA is out of scope here).
func parseLocalRoutine(s *scanner) (hostlang.LocalRoutine, error) {
	fields, _, err := parseKeyValueSection(s)
	if err != nil {
		return hostlang.LocalRoutine{}, err
	}
	return hostlang.LocalRoutine{
		RoutineMetadata: hostlang.RoutineMetadata{
			Name:    fields["name"],
			Args:    hostlang.Vector{Values: splitCSV(fields["params"])},
			Results: hostlang.Vector{Values: splitCSV(fields["returns"])},
		},
		VirtualIDs: parseIntList(fields["qubit_use"]),
		QubitKeep:  parseIntList(fields["keeps"]),
	}, nil
}

func parseRequestRoutine(s *scanner) (hostlang.RequestRoutine, error) {
	fields, lines, err := parseKeyValueSection(s)
	if err != nil {
		return hostlang.RequestRoutine{}, err
	}
	numPairs, _ := strconv.Atoi(fields["num_pairs"])
	remoteID, _ := strconv.Atoi(fields["remote_id"])
	eprSocketID, _ := strconv.Atoi(fields["epr_socket_id"])

	var eprType hostlang.EPRType
	switch fields["type"] {
	case "measure_directly":
		eprType = hostlang.EPRMeasureDirectly
	case "remote_state_prep":
		eprType = hostlang.EPRRemoteStatePrep
	default:
		eprType = hostlang.EPRCreateKeep
	}

	var callback hostlang.CallbackMode
	if fields["callback_type"] == "wait_all" {
		callback = hostlang.CallbackWaitAll
	}

	alloc, base, customIDs, err := parseVirtIDSpec(fields["virt_ids"], lines["virt_ids"])
	if err != nil {
		return hostlang.RequestRoutine{}, err
	}
	timeout, err := parseTimeout(fields["timeout"], lines["timeout"])
	if err != nil {
		return hostlang.RequestRoutine{}, err
	}
	fidelity, err := parseFidelity(fields["fidelity"], lines["fidelity"])
	if err != nil {
		return hostlang.RequestRoutine{}, err
	}

	return hostlang.RequestRoutine{
		RoutineMetadata: hostlang.RoutineMetadata{
			Name: fields["name"],
		},
		Request: hostlang.Request{
			Name:         fields["name"],
			RemoteNodeID: remoteID,
			EPRSocketID:  eprSocketID,
			NumPairs:     numPairs,
			Type:         eprType,
			VirtIDAlloc:  alloc,
			VirtIDBase:   base,
			VirtIDs:      customIDs,
			Callback:     callback,
			CallbackName: fields["callback"],
			Timeout:      timeout,
			Fidelity:     fidelity,
			Role:         parseRole(fields["role"]),
		},
	}, nil
}

// parseVirtIDSpec parses a REQUEST section's "virt_ids:" value, one of
// "all <k>", "increment <k>" or "custom <list>". An empty value defaults
// to VirtIDAll with base 0, the strategy's zero value.
func parseVirtIDSpec(raw string, no int) (hostlang.VirtIDAllocStrategy, int, []int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return hostlang.VirtIDAll, 0, nil, nil
	}
	fields := strings.Fields(raw)
	switch fields[0] {
	case "all":
		if len(fields) < 2 {
			return 0, 0, nil, errAt(no, "virt_ids %q: \"all\" requires a base id", raw)
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, 0, nil, errAt(no, "virt_ids %q: base %q is not an integer", raw, fields[1])
		}
		return hostlang.VirtIDAll, k, nil, nil
	case "increment":
		if len(fields) < 2 {
			return 0, 0, nil, errAt(no, "virt_ids %q: \"increment\" requires a base id", raw)
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, 0, nil, errAt(no, "virt_ids %q: base %q is not an integer", raw, fields[1])
		}
		return hostlang.VirtIDIncrement, k, nil, nil
	case "custom":
		ids := parseIntList(strings.Join(fields[1:], ","))
		return hostlang.VirtIDCustom, 0, ids, nil
	default:
		return 0, 0, nil, errAt(no, "unknown virt_ids strategy %q", fields[0])
	}
}

// parseTimeout parses a REQUEST section's "timeout:" value as nanoseconds.
// An empty value means no timeout. Template placeholders are rejected:
// resolving a request-level timeout against process inputs is not
// supported yet.
func parseTimeout(raw string, no int) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.HasPrefix(raw, "{") {
		return 0, errAt(no, "timeout template placeholders are not supported")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errAt(no, "timeout %q is not an integer", raw)
	}
	return v, nil
}

// parseFidelity parses a REQUEST section's "fidelity:" value. An empty
// value means no minimum fidelity is enforced.
func parseFidelity(raw string, no int) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.HasPrefix(raw, "{") {
		return 0, errAt(no, "fidelity template placeholders are not supported")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errAt(no, "fidelity %q is not a float", raw)
	}
	return v, nil
}

// parseRole parses a REQUEST section's "role:" value. An empty or
// unrecognized value defaults to CREATE, the strategy's zero value.
func parseRole(raw string) hostlang.Role {
	if strings.EqualFold(strings.TrimSpace(raw), "receive") {
		return hostlang.RoleReceive
	}
	return hostlang.RoleCreate
}

func parseKeyValueSection(s *scanner) (map[string]string, map[string]int, error) {
	fields := make(map[string]string)
	lineNos := make(map[string]int)
	for {
		line, lno, ok := s.peek()
		if !ok || strings.HasPrefix(line, "^") || line == "SUBROUTINE" || line == "REQUEST" {
			break
		}
		s.next()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		fields[key] = val
		lineNos[key] = lno
	}
	return fields, lineNos, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseIntList(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			out = append(out, v)
		}
	}
	return out
}
