package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/coreos-rdma/ibverbscr/internal/decoder"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
)

func main() {
	var (
		path    = flag.String("file", "", "Path to a raw dump buffer (header+payload records)")
		verbose = flag.Bool("v", false, "Also print CQ queue snapshots and QP attributes after each one-line summary")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -file")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("opening %s: %v", *path, err)
	}
	defer f.Close()

	entries, err := decoder.DecodeAll(f, nil)
	if err != nil {
		log.Fatalf("decoding %s: %v", *path, err)
	}

	fmt.Printf("%d objects in %s\n", len(entries), *path)
	for _, e := range entries {
		printEntry(e, *verbose)
	}
}

func printEntry(e decoder.Entry, verbose bool) {
	switch e.Kind {
	case uapi.KindPD:
		fmt.Printf("PD handle=%d\n", e.PD.Handle)

	case uapi.KindMR:
		fmt.Printf("MR handle=%d pd=%d mrn=%d lkey=0x%x rkey=0x%x addr=0x%x length=0x%x\n",
			e.MR.Handle, e.MR.PDHandle, e.MR.Mrn, e.MR.LKey, e.MR.RKey, e.MR.Addr, e.MR.Length)

	case uapi.KindCQ:
		fmt.Printf("CQ handle=%d cqe=%d comp_channel=%d vm_start=0x%x vm_size=0x%x\n",
			e.CQ.Handle, e.CQ.CQE, e.CQ.CompChannel, e.CQ.VMStart, e.CQ.VMSize)
		if verbose {
			fmt.Printf("    queue: log2_elem_size=%d index_mask=0x%x producer=%d consumer=%d\n",
				e.CQ.Queue.Log2ElemSize, e.CQ.Queue.IndexMask, e.CQ.Queue.ProducerIndex, e.CQ.Queue.ConsumerIndex)
		}

	case uapi.KindQP:
		fmt.Printf("QP handle=%d qp_num=%d type=%d pd=%d send_cq=%d recv_cq=%d srq=%d state=%d\n",
			e.QP.Handle, e.QP.QPNum, e.QP.QPType, e.QP.PDHandle, e.QP.SendCQHandle, e.QP.RecvCQHandle,
			e.QP.SRQHandle, e.QP.Attr.State)
		if verbose {
			a := e.QP.Attr
			fmt.Printf("    attr: path_mtu=%d access_flags=0x%x dest_qpn=%d rq_psn=%d sq_psn=%d "+
				"max_rd_atomic=%d max_dest_rd_atomic=%d min_rnr_timer=%d timeout=%d retry_cnt=%d rnr_retry=%d\n",
				a.PathMTU, a.QPAccessFlags, a.DestQPN, a.RQPSN, a.SQPSN,
				a.MaxRdAtomic, a.MaxDestRdAtomic, a.MinRnrTimer, a.Timeout, a.RetryCnt, a.RnrRetry)
			fmt.Printf("    ah: port=%d sl=%d src_path_bits=%d dlid=%d is_global=%d\n",
				a.AH.PortNum, a.AH.SL, a.AH.SrcPathBits, a.AH.DLID, a.AH.IsGlobal)
		}

	default:
		fmt.Printf("unknown kind=%d\n", e.Kind)
	}
}
