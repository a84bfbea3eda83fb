// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Tables of flatrpc.fbs in the layout of flatc --go --gen-object-api.
// Keep field slots in sync with the schema.

package flatrpc

import (
	"strconv"

	flatbuffers "github.com/google/flatbuffers/go"
)

type ExecStatus int32

const (
	ExecStatusSuccess   ExecStatus = 0
	ExecStatusFault     ExecStatus = 1
	ExecStatusTimeout   ExecStatus = 2
	ExecStatusFatal     ExecStatus = 3
	ExecStatusCancelled ExecStatus = 4
)

var EnumNamesExecStatus = map[ExecStatus]string{
	ExecStatusSuccess:   "Success",
	ExecStatusFault:     "Fault",
	ExecStatusTimeout:   "Timeout",
	ExecStatusFatal:     "Fatal",
	ExecStatusCancelled: "Cancelled",
}

var EnumValuesExecStatus = map[string]ExecStatus{
	"Success":   ExecStatusSuccess,
	"Fault":     ExecStatusFault,
	"Timeout":   ExecStatusTimeout,
	"Fatal":     ExecStatusFatal,
	"Cancelled": ExecStatusCancelled,
}

func (v ExecStatus) String() string {
	if s, ok := EnumNamesExecStatus[v]; ok {
		return s
	}
	return "ExecStatus(" + strconv.FormatInt(int64(v), 10) + ")"
}

type ExecFlag uint64

const (
	ExecFlagCollectComps ExecFlag = 1
	ExecFlagResetState   ExecFlag = 2
)

var EnumNamesExecFlag = map[ExecFlag]string{
	ExecFlagCollectComps: "CollectComps",
	ExecFlagResetState:   "ResetState",
}

var EnumValuesExecFlag = map[string]ExecFlag{
	"CollectComps": ExecFlagCollectComps,
	"ResetState":   ExecFlagResetState,
}

func (v ExecFlag) String() string {
	if s, ok := EnumNamesExecFlag[v]; ok {
		return s
	}
	return "ExecFlag(" + strconv.FormatInt(int64(v), 10) + ")"
}

func packStrings(builder *flatbuffers.Builder, strs []string) flatbuffers.UOffsetT {
	if strs == nil {
		return 0
	}
	offsets := make([]flatbuffers.UOffsetT, len(strs))
	for j := range strs {
		offsets[j] = builder.CreateString(strs[j])
	}
	builder.StartVector(4, len(strs), 4)
	for j := len(strs) - 1; j >= 0; j-- {
		builder.PrependUOffsetT(offsets[j])
	}
	return builder.EndVector(len(strs))
}

func packUint32s(builder *flatbuffers.Builder, vals []uint32) flatbuffers.UOffsetT {
	if vals == nil {
		return 0
	}
	builder.StartVector(4, len(vals), 4)
	for j := len(vals) - 1; j >= 0; j-- {
		builder.PrependUint32(vals[j])
	}
	return builder.EndVector(len(vals))
}

func packUint64s(builder *flatbuffers.Builder, vals []uint64) flatbuffers.UOffsetT {
	if vals == nil {
		return 0
	}
	builder.StartVector(8, len(vals), 8)
	for j := len(vals) - 1; j >= 0; j-- {
		builder.PrependUint64(vals[j])
	}
	return builder.EndVector(len(vals))
}

func packBytes(builder *flatbuffers.Builder, data []byte) flatbuffers.UOffsetT {
	if data == nil {
		return 0
	}
	return builder.CreateByteVector(data)
}

type ConnectRequestRawT struct {
	Name     string   `json:"name"`
	Protocol int32    `json:"protocol"`
	Edges    int32    `json:"edges"`
	Blind    []string `json:"blind"`
}

func (t *ConnectRequestRawT) Pack(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	if t == nil {
		return 0
	}
	nameOffset := flatbuffers.UOffsetT(0)
	if t.Name != "" {
		nameOffset = builder.CreateString(t.Name)
	}
	blindOffset := packStrings(builder, t.Blind)
	ConnectRequestRawStart(builder)
	ConnectRequestRawAddName(builder, nameOffset)
	ConnectRequestRawAddProtocol(builder, t.Protocol)
	ConnectRequestRawAddEdges(builder, t.Edges)
	ConnectRequestRawAddBlind(builder, blindOffset)
	return ConnectRequestRawEnd(builder)
}

func (rcv *ConnectRequestRaw) UnPackTo(t *ConnectRequestRawT) {
	t.Name = string(rcv.Name())
	t.Protocol = rcv.Protocol()
	t.Edges = rcv.Edges()
	blindLength := rcv.BlindLength()
	if blindLength > 0 {
		t.Blind = make([]string, blindLength)
		for j := 0; j < blindLength; j++ {
			t.Blind[j] = string(rcv.Blind(j))
		}
	}
}

func (rcv *ConnectRequestRaw) UnPack() *ConnectRequestRawT {
	if rcv == nil {
		return nil
	}
	t := &ConnectRequestRawT{}
	rcv.UnPackTo(t)
	return t
}

type ConnectRequestRaw struct {
	_tab flatbuffers.Table
}

func GetRootAsConnectRequestRaw(buf []byte, offset flatbuffers.UOffsetT) *ConnectRequestRaw {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ConnectRequestRaw{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ConnectRequestRaw) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ConnectRequestRaw) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ConnectRequestRaw) Name() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ConnectRequestRaw) Protocol() int32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetInt32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ConnectRequestRaw) Edges() int32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetInt32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ConnectRequestRaw) Blind(j int) []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.ByteVector(a + flatbuffers.UOffsetT(j*4))
	}
	return nil
}

func (rcv *ConnectRequestRaw) BlindLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func ConnectRequestRawStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}

func ConnectRequestRawAddName(builder *flatbuffers.Builder, name flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(name), 0)
}

func ConnectRequestRawAddProtocol(builder *flatbuffers.Builder, protocol int32) {
	builder.PrependInt32Slot(1, protocol, 0)
}

func ConnectRequestRawAddEdges(builder *flatbuffers.Builder, edges int32) {
	builder.PrependInt32Slot(2, edges, 0)
}

func ConnectRequestRawAddBlind(builder *flatbuffers.Builder, blind flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(blind), 0)
}

func ConnectRequestRawEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type ConnectReplyRawT struct {
	Session string `json:"session"`
	Debug   bool   `json:"debug"`
}

func (t *ConnectReplyRawT) Pack(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	if t == nil {
		return 0
	}
	sessionOffset := flatbuffers.UOffsetT(0)
	if t.Session != "" {
		sessionOffset = builder.CreateString(t.Session)
	}
	ConnectReplyRawStart(builder)
	ConnectReplyRawAddSession(builder, sessionOffset)
	ConnectReplyRawAddDebug(builder, t.Debug)
	return ConnectReplyRawEnd(builder)
}

func (rcv *ConnectReplyRaw) UnPackTo(t *ConnectReplyRawT) {
	t.Session = string(rcv.Session())
	t.Debug = rcv.Debug()
}

func (rcv *ConnectReplyRaw) UnPack() *ConnectReplyRawT {
	if rcv == nil {
		return nil
	}
	t := &ConnectReplyRawT{}
	rcv.UnPackTo(t)
	return t
}

type ConnectReplyRaw struct {
	_tab flatbuffers.Table
}

func GetRootAsConnectReplyRaw(buf []byte, offset flatbuffers.UOffsetT) *ConnectReplyRaw {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ConnectReplyRaw{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ConnectReplyRaw) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ConnectReplyRaw) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ConnectReplyRaw) Session() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ConnectReplyRaw) Debug() bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.GetBool(o + rcv._tab.Pos)
	}
	return false
}

func ConnectReplyRawStart(builder *flatbuffers.Builder) {
	builder.StartObject(2)
}

func ConnectReplyRawAddSession(builder *flatbuffers.Builder, session flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(session), 0)
}

func ConnectReplyRawAddDebug(builder *flatbuffers.Builder, debug bool) {
	builder.PrependBoolSlot(1, debug, false)
}

func ConnectReplyRawEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type ExecRequestRawT struct {
	Id       int64    `json:"id"`
	Input    []byte   `json:"input"`
	BudgetMs int64    `json:"budget_ms"`
	Flags    ExecFlag `json:"flags"`
}

func (t *ExecRequestRawT) Pack(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	if t == nil {
		return 0
	}
	inputOffset := packBytes(builder, t.Input)
	ExecRequestRawStart(builder)
	ExecRequestRawAddId(builder, t.Id)
	ExecRequestRawAddInput(builder, inputOffset)
	ExecRequestRawAddBudgetMs(builder, t.BudgetMs)
	ExecRequestRawAddFlags(builder, t.Flags)
	return ExecRequestRawEnd(builder)
}

func (rcv *ExecRequestRaw) UnPackTo(t *ExecRequestRawT) {
	t.Id = rcv.Id()
	t.Input = rcv.InputBytes()
	t.BudgetMs = rcv.BudgetMs()
	t.Flags = rcv.Flags()
}

func (rcv *ExecRequestRaw) UnPack() *ExecRequestRawT {
	if rcv == nil {
		return nil
	}
	t := &ExecRequestRawT{}
	rcv.UnPackTo(t)
	return t
}

type ExecRequestRaw struct {
	_tab flatbuffers.Table
}

func GetRootAsExecRequestRaw(buf []byte, offset flatbuffers.UOffsetT) *ExecRequestRaw {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ExecRequestRaw{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ExecRequestRaw) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ExecRequestRaw) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ExecRequestRaw) Id() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ExecRequestRaw) Input(j int) byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetByte(a + flatbuffers.UOffsetT(j*1))
	}
	return 0
}

func (rcv *ExecRequestRaw) InputLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ExecRequestRaw) InputBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ExecRequestRaw) BudgetMs() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ExecRequestRaw) Flags() ExecFlag {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return ExecFlag(rcv._tab.GetUint64(o + rcv._tab.Pos))
	}
	return 0
}

func ExecRequestRawStart(builder *flatbuffers.Builder) {
	builder.StartObject(4)
}

func ExecRequestRawAddId(builder *flatbuffers.Builder, id int64) {
	builder.PrependInt64Slot(0, id, 0)
}

func ExecRequestRawAddInput(builder *flatbuffers.Builder, input flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(input), 0)
}

func ExecRequestRawAddBudgetMs(builder *flatbuffers.Builder, budgetMs int64) {
	builder.PrependInt64Slot(2, budgetMs, 0)
}

func ExecRequestRawAddFlags(builder *flatbuffers.Builder, flags ExecFlag) {
	builder.PrependUint64Slot(3, uint64(flags), 0)
}

func ExecRequestRawEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type ExecResultRawT struct {
	Id             int64      `json:"id"`
	Status         ExecStatus `json:"status"`
	Edges          []uint32   `json:"edges"`
	Counts         []byte     `json:"counts"`
	FaultCategory  string     `json:"fault_category"`
	FaultSignature string     `json:"fault_signature"`
	FaultDetail    string     `json:"fault_detail"`
	Comps          []uint64   `json:"comps"`
	Elapsed        int64      `json:"elapsed"`
	TotalEdges     int32      `json:"total_edges"`
	Blind          []string   `json:"blind"`
}

func (t *ExecResultRawT) Pack(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	if t == nil {
		return 0
	}
	edgesOffset := packUint32s(builder, t.Edges)
	countsOffset := packBytes(builder, t.Counts)
	categoryOffset := flatbuffers.UOffsetT(0)
	if t.FaultCategory != "" {
		categoryOffset = builder.CreateString(t.FaultCategory)
	}
	signatureOffset := flatbuffers.UOffsetT(0)
	if t.FaultSignature != "" {
		signatureOffset = builder.CreateString(t.FaultSignature)
	}
	detailOffset := flatbuffers.UOffsetT(0)
	if t.FaultDetail != "" {
		detailOffset = builder.CreateString(t.FaultDetail)
	}
	compsOffset := packUint64s(builder, t.Comps)
	blindOffset := packStrings(builder, t.Blind)
	ExecResultRawStart(builder)
	ExecResultRawAddId(builder, t.Id)
	ExecResultRawAddStatus(builder, t.Status)
	ExecResultRawAddEdges(builder, edgesOffset)
	ExecResultRawAddCounts(builder, countsOffset)
	ExecResultRawAddFaultCategory(builder, categoryOffset)
	ExecResultRawAddFaultSignature(builder, signatureOffset)
	ExecResultRawAddFaultDetail(builder, detailOffset)
	ExecResultRawAddComps(builder, compsOffset)
	ExecResultRawAddElapsed(builder, t.Elapsed)
	ExecResultRawAddTotalEdges(builder, t.TotalEdges)
	ExecResultRawAddBlind(builder, blindOffset)
	return ExecResultRawEnd(builder)
}

func (rcv *ExecResultRaw) UnPackTo(t *ExecResultRawT) {
	t.Id = rcv.Id()
	t.Status = rcv.Status()
	edgesLength := rcv.EdgesLength()
	if edgesLength > 0 {
		t.Edges = make([]uint32, edgesLength)
		for j := 0; j < edgesLength; j++ {
			t.Edges[j] = rcv.Edges(j)
		}
	}
	t.Counts = rcv.CountsBytes()
	t.FaultCategory = string(rcv.FaultCategory())
	t.FaultSignature = string(rcv.FaultSignature())
	t.FaultDetail = string(rcv.FaultDetail())
	compsLength := rcv.CompsLength()
	if compsLength > 0 {
		t.Comps = make([]uint64, compsLength)
		for j := 0; j < compsLength; j++ {
			t.Comps[j] = rcv.Comps(j)
		}
	}
	t.Elapsed = rcv.Elapsed()
	t.TotalEdges = rcv.TotalEdges()
	blindLength := rcv.BlindLength()
	if blindLength > 0 {
		t.Blind = make([]string, blindLength)
		for j := 0; j < blindLength; j++ {
			t.Blind[j] = string(rcv.Blind(j))
		}
	}
}

func (rcv *ExecResultRaw) UnPack() *ExecResultRawT {
	if rcv == nil {
		return nil
	}
	t := &ExecResultRawT{}
	rcv.UnPackTo(t)
	return t
}

type ExecResultRaw struct {
	_tab flatbuffers.Table
}

func GetRootAsExecResultRaw(buf []byte, offset flatbuffers.UOffsetT) *ExecResultRaw {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &ExecResultRaw{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *ExecResultRaw) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *ExecResultRaw) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *ExecResultRaw) Id() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ExecResultRaw) Status() ExecStatus {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return ExecStatus(rcv._tab.GetInt32(o + rcv._tab.Pos))
	}
	return 0
}

func (rcv *ExecResultRaw) Edges(j int) uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetUint32(a + flatbuffers.UOffsetT(j*4))
	}
	return 0
}

func (rcv *ExecResultRaw) EdgesLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ExecResultRaw) Counts(j int) byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetByte(a + flatbuffers.UOffsetT(j*1))
	}
	return 0
}

func (rcv *ExecResultRaw) CountsLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ExecResultRaw) CountsBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ExecResultRaw) FaultCategory() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ExecResultRaw) FaultSignature() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ExecResultRaw) FaultDetail() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(16))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *ExecResultRaw) Comps(j int) uint64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(18))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetUint64(a + flatbuffers.UOffsetT(j*8))
	}
	return 0
}

func (rcv *ExecResultRaw) CompsLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(18))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *ExecResultRaw) Elapsed() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(20))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ExecResultRaw) TotalEdges() int32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(22))
	if o != 0 {
		return rcv._tab.GetInt32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *ExecResultRaw) Blind(j int) []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(24))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.ByteVector(a + flatbuffers.UOffsetT(j*4))
	}
	return nil
}

func (rcv *ExecResultRaw) BlindLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(24))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func ExecResultRawStart(builder *flatbuffers.Builder) {
	builder.StartObject(11)
}

func ExecResultRawAddId(builder *flatbuffers.Builder, id int64) {
	builder.PrependInt64Slot(0, id, 0)
}

func ExecResultRawAddStatus(builder *flatbuffers.Builder, status ExecStatus) {
	builder.PrependInt32Slot(1, int32(status), 0)
}

func ExecResultRawAddEdges(builder *flatbuffers.Builder, edges flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(edges), 0)
}

func ExecResultRawAddCounts(builder *flatbuffers.Builder, counts flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(3, flatbuffers.UOffsetT(counts), 0)
}

func ExecResultRawAddFaultCategory(builder *flatbuffers.Builder, faultCategory flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(4, flatbuffers.UOffsetT(faultCategory), 0)
}

func ExecResultRawAddFaultSignature(builder *flatbuffers.Builder, faultSignature flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(5, flatbuffers.UOffsetT(faultSignature), 0)
}

func ExecResultRawAddFaultDetail(builder *flatbuffers.Builder, faultDetail flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(6, flatbuffers.UOffsetT(faultDetail), 0)
}

func ExecResultRawAddComps(builder *flatbuffers.Builder, comps flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(7, flatbuffers.UOffsetT(comps), 0)
}

func ExecResultRawAddElapsed(builder *flatbuffers.Builder, elapsed int64) {
	builder.PrependInt64Slot(8, elapsed, 0)
}

func ExecResultRawAddTotalEdges(builder *flatbuffers.Builder, totalEdges int32) {
	builder.PrependInt32Slot(9, totalEdges, 0)
}

func ExecResultRawAddBlind(builder *flatbuffers.Builder, blind flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(10, flatbuffers.UOffsetT(blind), 0)
}

func ExecResultRawEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}

type CorpusEntryRawT struct {
	Input    []byte   `json:"input"`
	Edges    []uint32 `json:"edges"`
	Masks    []uint32 `json:"masks"`
	Found    int64    `json:"found"`
	Chosen   int64    `json:"chosen"`
	Children int64    `json:"children"`
	Novel    int64    `json:"novel"`
	Decay     int32    `json:"decay"`
	NewBits   int32    `json:"new_bits"`
	Fruitless int64    `json:"fruitless"`
}

func (t *CorpusEntryRawT) Pack(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	if t == nil {
		return 0
	}
	inputOffset := packBytes(builder, t.Input)
	edgesOffset := packUint32s(builder, t.Edges)
	masksOffset := packUint32s(builder, t.Masks)
	CorpusEntryRawStart(builder)
	CorpusEntryRawAddInput(builder, inputOffset)
	CorpusEntryRawAddEdges(builder, edgesOffset)
	CorpusEntryRawAddMasks(builder, masksOffset)
	CorpusEntryRawAddFound(builder, t.Found)
	CorpusEntryRawAddChosen(builder, t.Chosen)
	CorpusEntryRawAddChildren(builder, t.Children)
	CorpusEntryRawAddNovel(builder, t.Novel)
	CorpusEntryRawAddDecay(builder, t.Decay)
	CorpusEntryRawAddNewBits(builder, t.NewBits)
	CorpusEntryRawAddFruitless(builder, t.Fruitless)
	return CorpusEntryRawEnd(builder)
}

func (rcv *CorpusEntryRaw) UnPackTo(t *CorpusEntryRawT) {
	t.Input = rcv.InputBytes()
	edgesLength := rcv.EdgesLength()
	if edgesLength > 0 {
		t.Edges = make([]uint32, edgesLength)
		for j := 0; j < edgesLength; j++ {
			t.Edges[j] = rcv.Edges(j)
		}
	}
	masksLength := rcv.MasksLength()
	if masksLength > 0 {
		t.Masks = make([]uint32, masksLength)
		for j := 0; j < masksLength; j++ {
			t.Masks[j] = rcv.Masks(j)
		}
	}
	t.Found = rcv.Found()
	t.Chosen = rcv.Chosen()
	t.Children = rcv.Children()
	t.Novel = rcv.Novel()
	t.Decay = rcv.Decay()
	t.NewBits = rcv.NewBits()
	t.Fruitless = rcv.Fruitless()
}

func (rcv *CorpusEntryRaw) UnPack() *CorpusEntryRawT {
	if rcv == nil {
		return nil
	}
	t := &CorpusEntryRawT{}
	rcv.UnPackTo(t)
	return t
}

type CorpusEntryRaw struct {
	_tab flatbuffers.Table
}

func GetRootAsCorpusEntryRaw(buf []byte, offset flatbuffers.UOffsetT) *CorpusEntryRaw {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &CorpusEntryRaw{}
	x.Init(buf, n+offset)
	return x
}

func (rcv *CorpusEntryRaw) Init(buf []byte, i flatbuffers.UOffsetT) {
	rcv._tab.Bytes = buf
	rcv._tab.Pos = i
}

func (rcv *CorpusEntryRaw) Table() flatbuffers.Table {
	return rcv._tab
}

func (rcv *CorpusEntryRaw) InputBytes() []byte {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(4))
	if o != 0 {
		return rcv._tab.ByteVector(o + rcv._tab.Pos)
	}
	return nil
}

func (rcv *CorpusEntryRaw) Edges(j int) uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetUint32(a + flatbuffers.UOffsetT(j*4))
	}
	return 0
}

func (rcv *CorpusEntryRaw) EdgesLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(6))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Masks(j int) uint32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		a := rcv._tab.Vector(o)
		return rcv._tab.GetUint32(a + flatbuffers.UOffsetT(j*4))
	}
	return 0
}

func (rcv *CorpusEntryRaw) MasksLength() int {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Found() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(10))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Chosen() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(12))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Children() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(14))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Novel() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(16))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Decay() int32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(18))
	if o != 0 {
		return rcv._tab.GetInt32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) NewBits() int32 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(20))
	if o != 0 {
		return rcv._tab.GetInt32(o + rcv._tab.Pos)
	}
	return 0
}

func (rcv *CorpusEntryRaw) Fruitless() int64 {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(22))
	if o != 0 {
		return rcv._tab.GetInt64(o + rcv._tab.Pos)
	}
	return 0
}

func CorpusEntryRawStart(builder *flatbuffers.Builder) {
	builder.StartObject(10)
}

func CorpusEntryRawAddInput(builder *flatbuffers.Builder, input flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(0, flatbuffers.UOffsetT(input), 0)
}

func CorpusEntryRawAddEdges(builder *flatbuffers.Builder, edges flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(1, flatbuffers.UOffsetT(edges), 0)
}

func CorpusEntryRawAddMasks(builder *flatbuffers.Builder, masks flatbuffers.UOffsetT) {
	builder.PrependUOffsetTSlot(2, flatbuffers.UOffsetT(masks), 0)
}

func CorpusEntryRawAddFound(builder *flatbuffers.Builder, found int64) {
	builder.PrependInt64Slot(3, found, 0)
}

func CorpusEntryRawAddChosen(builder *flatbuffers.Builder, chosen int64) {
	builder.PrependInt64Slot(4, chosen, 0)
}

func CorpusEntryRawAddChildren(builder *flatbuffers.Builder, children int64) {
	builder.PrependInt64Slot(5, children, 0)
}

func CorpusEntryRawAddNovel(builder *flatbuffers.Builder, novel int64) {
	builder.PrependInt64Slot(6, novel, 0)
}

func CorpusEntryRawAddDecay(builder *flatbuffers.Builder, decay int32) {
	builder.PrependInt32Slot(7, decay, 0)
}

func CorpusEntryRawAddNewBits(builder *flatbuffers.Builder, newBits int32) {
	builder.PrependInt32Slot(8, newBits, 0)
}

func CorpusEntryRawAddFruitless(builder *flatbuffers.Builder, fruitless int64) {
	builder.PrependInt64Slot(9, fruitless, 0)
}

func CorpusEntryRawEnd(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	return builder.EndObject()
}
