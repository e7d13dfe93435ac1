// Copyright 2024-2026 The goDNN Authors. SPDX-License-Identifier: Apache-2.0

// Package gemm implements the generic matrix-multiply kernels used by the
// matmul primitive. All operands are dense row-major slices; batching and
// parallelism are the caller's concern.
package gemm

import "github.com/taoye9/godnn/types/dtypes"

// PackRHS transposes the row-major rhs [k, n] into packed [n, k], so the
// contraction loop of RowMajorPacked reads both operands contiguously.
// packed must hold k*n elements.
func PackRHS[T dtypes.Float](rhs []T, k, n int, packed []T) {
	for col := 0; col < n; col++ {
		packedRow := packed[col*k : (col+1)*k]
		for row := 0; row < k; row++ {
			packedRow[row] = rhs[row*n+col]
		}
	}
}

// RowMajorPacked computes out[m, n] = lhs[m, k] x rhs[k, n] for the row
// range [rowStart, rowEnd), with rhs pre-transposed by PackRHS into
// packed [n, k]. out rows outside the range are untouched.
func RowMajorPacked[T dtypes.Float](lhs, packed []T, k, n int, rowStart, rowEnd int, out []T) {
	for row := rowStart; row < rowEnd; row++ {
		lhsRow := lhs[row*k : (row+1)*k]
		outRow := out[row*n : (row+1)*n]
		for col := 0; col < n; col++ {
			packedRow := packed[col*k : (col+1)*k]
			var sum T
			// 4-way unrolled contraction; both operands contiguous.
			kk := 0
			for ; kk+3 < k; kk += 4 {
				sum += lhsRow[kk]*packedRow[kk] +
					lhsRow[kk+1]*packedRow[kk+1] +
					lhsRow[kk+2]*packedRow[kk+2] +
					lhsRow[kk+3]*packedRow[kk+3]
			}
			for ; kk < k; kk++ {
				sum += lhsRow[kk] * packedRow[kk]
			}
			outRow[col] = sum
		}
	}
}

// AddBiasRow adds bias[n] to every out row in [rowStart, rowEnd).
func AddBiasRow[T dtypes.Float](bias []T, n, rowStart, rowEnd int, out []T) {
	for row := rowStart; row < rowEnd; row++ {
		outRow := out[row*n : (row+1)*n]
		for col := 0; col < n; col++ {
			outRow[col] += bias[col]
		}
	}
}
