// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// OpType enumerates the operations a Node can hold.
//
// The String() value (e.g. "Multiply") is the op's description, the name used by placement policies.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant
	OpTypeResult
	OpTypeIdentity

	OpTypeAdd
	OpTypeSubtract
	OpTypeMultiply
	OpTypeDivide
	OpTypeMaximum
	OpTypeMinimum

	OpTypeNegate
	OpTypeAbs
	OpTypeSqrt

	OpTypeBroadcast
	OpTypeReduceSum
	OpTypePad

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// IsBinaryElementwise returns whether the op takes two operands of the same shape and combines them
// element by element.
func (op OpType) IsBinaryElementwise() bool {
	return op >= OpTypeAdd && op <= OpTypeMinimum
}

// IsUnaryElementwise returns whether the op maps each element of its single operand.
func (op OpType) IsUnaryElementwise() bool {
	return op >= OpTypeNegate && op <= OpTypeSqrt
}

// IsElementwise returns whether the op is either a unary or binary elementwise op.
func (op OpType) IsElementwise() bool {
	return op.IsBinaryElementwise() || op.IsUnaryElementwise()
}
