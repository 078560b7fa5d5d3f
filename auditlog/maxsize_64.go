//go:build amd64 || arm64 || loong64 || ppc64 || ppc64le || riscv64 || s390x || mips64 || mips64le

package auditlog

// maxMapSize is the largest segment that can be mapped in one piece.
const maxMapSize = 0x8000000000 // 512GB
