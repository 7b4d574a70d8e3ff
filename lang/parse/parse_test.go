package parse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qoala-sim/qoala/lang/hostlang"
)

const sampleProgram = `
META_START
name: alice_program
csockets: 0 -> bob
epr_sockets: 0 -> bob
META_END
^b0 {CL}
x = assign_cval() : 10
y = assign_cval() : 5
sum = add_cval_c(x, y)
send_cmsg(bob, sum)
^b1 {CL}
reply = recv_cmsg(bob)
return_result(reply)
SUBROUTINE
name: add_one
params: x
returns: y
qubit_use: 0
keeps: 0
REQUEST
name: create_pair
remote_id: 1
epr_socket_id: 0
num_pairs: 2
type: create_keep
virt_ids: increment 0
timeout: 1000000
fidelity: 0.8
role: CREATE
callback_type: sequential
callback: add_one
`

func TestParseMetaAndBlocks(t *testing.T) {
	prog, err := Parse(sampleProgram)
	require.NoError(t, err)

	require.Equal(t, "alice_program", prog.Meta.Name)
	require.Equal(t, "bob", prog.Meta.CSockets[0])
	require.Equal(t, "bob", prog.Meta.EPRSockets[0])

	require.Len(t, prog.Blocks, 2)
	require.Equal(t, "b0", prog.Blocks[0].Name)
	require.Equal(t, hostlang.CL, prog.Blocks[0].Type)
	require.Len(t, prog.Blocks[0].Instructions, 4)

	assign, ok := prog.Blocks[0].Instructions[0].(hostlang.AssignCValueOp)
	require.True(t, ok)
	require.Equal(t, "x", assign.Result)
	require.EqualValues(t, 10, assign.Val.Int)

	send, ok := prog.Blocks[0].Instructions[3].(hostlang.SendCMsgOp)
	require.True(t, ok)
	require.Equal(t, "bob", send.CSocket)
	require.Equal(t, "sum", send.Value)
}

func TestParseSubroutineAndRequestSections(t *testing.T) {
	prog, err := Parse(sampleProgram)
	require.NoError(t, err)

	routine, ok := prog.LocalRoutines["add_one"]
	require.True(t, ok)
	require.Equal(t, []string{"x"}, routine.Args.Values)
	require.Equal(t, []string{"y"}, routine.Results.Values)
	require.Equal(t, []int{0}, routine.VirtualIDs)
	require.Equal(t, []int{0}, routine.QubitKeep)

	reqRoutine, ok := prog.RequestRoutines["create_pair"]
	require.True(t, ok)
	require.Equal(t, 1, reqRoutine.Request.RemoteNodeID)
	require.Equal(t, 2, reqRoutine.Request.NumPairs)
	require.Equal(t, hostlang.EPRCreateKeep, reqRoutine.Request.Type)
	require.Equal(t, hostlang.CallbackSequential, reqRoutine.Request.Callback)
	require.Equal(t, "add_one", reqRoutine.Request.CallbackName)
	require.Equal(t, hostlang.VirtIDIncrement, reqRoutine.Request.VirtIDAlloc)
	require.Equal(t, 0, reqRoutine.Request.VirtIDBase)
	require.EqualValues(t, 1000000, reqRoutine.Request.Timeout)
	require.InDelta(t, 0.8, reqRoutine.Request.Fidelity, 1e-9)
	require.Equal(t, hostlang.RoleCreate, reqRoutine.Request.Role)
}

func TestParseVirtIDsCustomList(t *testing.T) {
	text := `
META_START
name: p
csockets:
epr_sockets:
META_END
REQUEST
name: r
remote_id: 1
epr_socket_id: 0
num_pairs: 3
type: measure_directly
virt_ids: custom 2,4,6
role: RECEIVE
`
	prog, err := Parse(text)
	require.NoError(t, err)
	r := prog.RequestRoutines["r"].Request
	require.Equal(t, hostlang.VirtIDCustom, r.VirtIDAlloc)
	require.Equal(t, []int{2, 4, 6}, r.VirtIDs)
	require.Equal(t, hostlang.RoleReceive, r.Role)
}

func TestParseRejectsMissingMetaStart(t *testing.T) {
	_, err := Parse("name: foo\nMETA_END\n")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseRejectsUnknownInstruction(t *testing.T) {
	text := `
META_START
name: p
csockets:
epr_sockets:
META_END
^b0 {CL}
frobnicate(x)
`
	_, err := Parse(text)
	require.Error(t, err)
}

func TestParseRejectsOutOfRangeJump(t *testing.T) {
	text := `
META_START
name: p
csockets:
epr_sockets:
META_END
^b0 {CL}
jmp() : 99
`
	_, err := Parse(text)
	require.Error(t, err)
}

func TestParseBranchInstruction(t *testing.T) {
	text := `
META_START
name: p
csockets:
epr_sockets:
META_END
^b0 {CL}
x = assign_cval() : 1
y = assign_cval() : 1
beq(x, y) : 0
`
	prog, err := Parse(text)
	require.NoError(t, err)
	branch, ok := prog.Blocks[0].Instructions[2].(hostlang.BranchOp)
	require.True(t, ok)
	require.Equal(t, hostlang.BranchEq, branch.Kind)
	require.Equal(t, 0, branch.TargetPC)
}
