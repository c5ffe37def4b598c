/*
Package workers sizes worker pools from the CPU budget the process actually
has.

In a container runtime.NumCPU reports the host's CPUs while GOMAXPROCS
follows the cgroup limit (Go 1.19+), so every helper here starts from
runtime.GOMAXPROCS(0):

	workers.ForCPU(4)  // transcodes: one per CPU, at most 4
	workers.ForIO(8)   // directory scans: two per CPU, at most 8

Operators can pin a pool with an environment variable:

	TRANSCODE_WORKERS=1   # one ffmpeg at a time
	SCAN_WORKERS=2        # gentle on NFS

ForTranscode and ForScan consult those variables before falling back to
the CPU-based count.
*/
package workers
