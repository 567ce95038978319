package stack_test

import (
	"testing"

	"github.com/regvm/vmheap/heap"
	"github.com/regvm/vmheap/stack"
	"github.com/stretchr/testify/require"
)

func TestPassByValue(t *testing.T) {
	dynamicObject, err := heap.DynamicObjectType("Dyn", 4)
	require.NoError(t, err)

	testCases := map[string]struct {
		info            heap.TypeInfo
		byValue         bool
		returnsInMemory bool
	}{
		"OneWordStruct":  {info: heap.StructType("Int", 1), byValue: true},
		"TwoWordStruct":  {info: heap.StructType("Pair", 2, 1), byValue: true},
		"LargeStruct":    {info: heap.StructType("Vec3", 3), returnsInMemory: true},
		"Function":       {info: heap.FunctionType("Fn"), byValue: true},
		"Closure":        {info: heap.ClosureType("Closure"), byValue: true},
		"TraitObject":    {info: heap.TraitObjectType("Trait"), byValue: true},
		"LargeList":      {info: heap.StaticListType("List", 8, false), returnsInMemory: true},
		"DynamicObject":  {info: dynamicObject},
		"DynamicList":    {info: heap.DynamicListType("DynList", 4, true)},
		"ZeroSizeStruct": {info: heap.StructType("Unit", 0), byValue: true},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			require.Equal(t, testCase.byValue, stack.PassByValue(&testCase.info))
			require.Equal(t, testCase.returnsInMemory, stack.ReturnsInMemory(&testCase.info))
		})
	}
}

func TestArgumentLayout(t *testing.T) {
	small := heap.StructType("Int", 1)
	pair := heap.StructType("Pair", 2, 1)
	large := heap.StructType("Vec3", 3)
	class := heap.StructType("Node", 3, 0, 1)

	testCases := map[string]struct {
		params   []stack.Param
		result   *stack.Param
		expected stack.Layout
	}{
		"NoArguments": {
			expected: stack.Layout{Size: 1},
		},
		"SmallValues": {
			params: []stack.Param{{Type: &small}, {Type: &pair}},
			result: &stack.Param{Type: &small},
			expected: stack.Layout{
				Arguments: []stack.Argument{
					{Register: 1, Count: 1, Pointers: []bool{false}},
					{Register: 2, Count: 2, Pointers: []bool{false, true}},
				},
				Result: stack.Argument{Register: 0, Count: 1, Pointers: []bool{false}},
				Size:   4,
			},
		},
		"LargeValueByPointer": {
			params: []stack.Param{{Type: &large}, {Type: &small}},
			expected: stack.Layout{
				Arguments: []stack.Argument{
					{Register: 1, Count: 1, ByPointer: true, Pointers: []bool{true}},
					{Register: 2, Count: 1, Pointers: []bool{false}},
				},
				Size: 3,
			},
		},
		"LargeResultInMemory": {
			params: []stack.Param{{Type: &small}},
			result: &stack.Param{Type: &large},
			expected: stack.Layout{
				ReturnStorage: true,
				Arguments: []stack.Argument{
					{Register: 2, Count: 1, Pointers: []bool{false}},
				},
				Size: 3,
			},
		},
		"ReferenceResult": {
			params: []stack.Param{{Type: &class, Reference: true}},
			result: &stack.Param{Type: &class, Reference: true},
			expected: stack.Layout{
				Arguments: []stack.Argument{
					{Register: 1, Count: 1, ByPointer: true, Pointers: []bool{true}},
				},
				Result: stack.Argument{Register: 0, Count: 1, ByPointer: true, Pointers: []bool{true}},
				Size:   2,
			},
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			require.Equal(t, testCase.expected, stack.ArgumentLayout(testCase.params, testCase.result))
		})
	}
}
