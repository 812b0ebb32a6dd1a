/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

// History is an in-memory applied/undone pair of stacks.
// The applied stack is ordered earliest-first; the undone stack keeps the most
// recently undone entry last. Any Push invalidates the undone stack.
//
// History is not safe for concurrent use; callers own the single thread that mutates it.
type History[T any] struct {
	applied []T
	undone  []T
}

// NewHistory returns an empty history.
func NewHistory[T any]() *History[T] { return &History[T]{} }

// Push appends v to the applied stack and drops all redo entries.
func (h *History[T]) Push(v T) {
	h.applied = append(h.applied, v)
	h.undone = nil
}

// Undo moves the last applied entry onto the undone stack.
func (h *History[T]) Undo() (T, bool) {
	var zero T
	n := len(h.applied)
	if n == 0 {
		return zero, false
	}
	v := h.applied[n-1]
	h.applied[n-1] = zero
	h.applied = h.applied[:n-1]
	h.undone = append(h.undone, v)
	return v, true
}

// Redo moves the most recently undone entry back onto the applied stack.
func (h *History[T]) Redo() (T, bool) {
	var zero T
	n := len(h.undone)
	if n == 0 {
		return zero, false
	}
	v := h.undone[n-1]
	h.undone[n-1] = zero
	h.undone = h.undone[:n-1]
	h.applied = append(h.applied, v)
	return v, true
}

// Clear drops both stacks.
func (h *History[T]) Clear() {
	h.applied = nil
	h.undone = nil
}

func (h *History[T]) CanUndo() bool { return len(h.applied) > 0 }
func (h *History[T]) CanRedo() bool { return len(h.undone) > 0 }

// Applied returns a copy of the applied stack, earliest first.
func (h *History[T]) Applied() []T { return append([]T(nil), h.applied...) }

// Undone returns a copy of the undone stack, most recently undone last.
func (h *History[T]) Undone() []T { return append([]T(nil), h.undone...) }

// Stats returns the depth of both stacks for diagnostics.
func (h *History[T]) Stats() (applied, undone int) { return len(h.applied), len(h.undone) }
