// Command ntfsbridge drives the filesystem bridge from the command
// line: it binds the configured block device, mounts the volume through
// the protocol surface and runs one operation against it.
//
// Usage:
//
//	ntfsbridge [flags] <command> [args]
//
// Commands:
//
//	ls [path]          list a directory
//	cat <path>         print file content
//	stat <path>        print file metadata
//	info               print volume metadata
//	write <path>       create/overwrite a file from stdin
//	mkdir <path>       create a directory
//	rm <path>          delete a file or empty directory
//	mv <path> <name>   rename within the same directory tree
//	label [name]       print or set the volume label
//	format <label>     write a fresh volume onto the device
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uefifs/ntfsbridge/internal/driver"
	"github.com/uefifs/ntfsbridge/internal/logger"
	"github.com/uefifs/ntfsbridge/pkg/blockdev"
	"github.com/uefifs/ntfsbridge/pkg/config"
	"github.com/uefifs/ntfsbridge/pkg/efi"
	"github.com/uefifs/ntfsbridge/pkg/metrics"
	"github.com/uefifs/ntfsbridge/pkg/ntfslib/memvol"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: search standard locations)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ntfsbridge: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		logger.SetLevel(*logLevel)
	} else {
		logger.SetLevel(cfg.Logging.Level)
	}

	ctx := context.Background()

	bio, err := config.CreateBlockDevice(ctx, &cfg.Device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ntfsbridge: %v\n", err)
		os.Exit(1)
	}
	defer bio.Close()

	met := metrics.NewNop()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		met = metrics.NewProm(reg)
		go serveMetrics(cfg.Metrics.Listen, reg)
	}

	command, args := flag.Arg(0), flag.Args()[1:]

	// Formatting happens below the driver; everything else goes through
	// the protocol surface.
	if command == "format" {
		if err := runFormat(bio, args); err != nil {
			fmt.Fprintf(os.Stderr, "ntfsbridge: format: %v\n", err)
			os.Exit(1)
		}
		return
	}

	drv := driver.New(memvol.Library{}, driver.Options{
		ReadOnly:          cfg.Driver.ReadOnly,
		IgnoreHibernation: cfg.Driver.IgnoreHibernation,
		Metrics:           met,
	})

	inst, err := drv.Attach(bio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ntfsbridge: attach: %v\n", err)
		os.Exit(1)
	}
	defer drv.Detach(inst)

	if err := run(inst, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "ntfsbridge: %s: %v\n", command, err)
		os.Exit(1)
	}
}

func serveMetrics(listen string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics endpoint: %v", err)
	}
}

func runFormat(bio blockdev.BlockIO, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: format <label>")
	}
	serial := rand.New(rand.NewSource(time.Now().UnixNano())).Uint64()
	if err := memvol.Format(driver.NewDevice(bio), args[0], serial); err != nil {
		return err
	}
	logger.Info("formatted volume: label=%s, serial=%016x", args[0], serial)
	return nil
}

func run(inst *driver.Instance, command string, args []string) error {
	root, err := inst.OpenVolume()
	if err != nil {
		return err
	}
	defer root.Close()

	switch command {
	case "ls":
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		return runLs(root, path)
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat <path>")
		}
		return runCat(root, args[0])
	case "stat":
		if len(args) != 1 {
			return fmt.Errorf("usage: stat <path>")
		}
		return runStat(root, args[0])
	case "info":
		return runInfo(root)
	case "write":
		if len(args) != 1 {
			return fmt.Errorf("usage: write <path>")
		}
		return runWrite(root, args[0])
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir <path>")
		}
		return runMkdir(root, args[0])
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <path>")
		}
		return runRm(root, args[0])
	case "mv":
		if len(args) != 2 {
			return fmt.Errorf("usage: mv <path> <new-name>")
		}
		return runMv(root, args[0], args[1])
	case "label":
		return runLabel(root, args)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func runLs(root *driver.Handle, path string) error {
	dir, err := root.Open(path, efi.ModeRead, 0)
	if err != nil {
		return err
	}
	defer dir.Close()

	for {
		e, err := dir.ReadEntry()
		if err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		kind := "-"
		if e.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %12d  %04d-%02d-%02d %02d:%02d  %s\n",
			kind, e.FileSize,
			e.ModificationTime.Year, e.ModificationTime.Month, e.ModificationTime.Day,
			e.ModificationTime.Hour, e.ModificationTime.Minute,
			e.FileName)
	}
}

func runCat(root *driver.Handle, path string) error {
	h, err := root.Open(path, efi.ModeRead, 0)
	if err != nil {
		return err
	}
	defer h.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := h.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := os.Stdout.Write(buf[:n]); err != nil {
			return err
		}
	}
}

func runStat(root *driver.Handle, path string) error {
	h, err := root.Open(path, efi.ModeRead, 0)
	if err != nil {
		return err
	}
	defer h.Close()

	info, err := h.Info()
	if err != nil {
		return err
	}
	fmt.Printf("name:      %s\n", info.FileName)
	fmt.Printf("size:      %d\n", info.FileSize)
	fmt.Printf("allocated: %d\n", info.PhysicalSize)
	fmt.Printf("attr:      %#x\n", info.Attribute)
	fmt.Printf("modified:  %04d-%02d-%02d %02d:%02d:%02d\n",
		info.ModificationTime.Year, info.ModificationTime.Month,
		info.ModificationTime.Day, info.ModificationTime.Hour,
		info.ModificationTime.Minute, info.ModificationTime.Second)
	return nil
}

func runInfo(root *driver.Handle) error {
	fsInfo, err := root.FileSystemInfo()
	if err != nil {
		return err
	}
	fmt.Printf("label:      %s\n", fsInfo.VolumeLabel)
	fmt.Printf("size:       %d\n", fsInfo.VolumeSize)
	fmt.Printf("free:       %d\n", fsInfo.FreeSpace)
	fmt.Printf("block size: %d\n", fsInfo.BlockSize)
	fmt.Printf("read-only:  %t\n", fsInfo.ReadOnly)
	return nil
}

func runWrite(root *driver.Handle, path string) error {
	h, err := root.Open(path, efi.ModeRead|efi.ModeWrite|efi.ModeCreate, 0)
	if err != nil {
		return err
	}
	defer h.Close()

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	// Truncate leftovers from a previous, longer version.
	info, err := h.Info()
	if err != nil {
		return err
	}
	info.FileSize = uint64(len(data))
	if err := h.SetInfo(info); err != nil {
		return err
	}
	if err := h.SetPosition(0); err != nil {
		return err
	}
	if _, err := h.Write(data); err != nil {
		return err
	}
	return h.Flush()
}

func runMkdir(root *driver.Handle, path string) error {
	h, err := root.Open(path, efi.ModeRead|efi.ModeWrite|efi.ModeCreate, efi.AttrDirectory)
	if err != nil {
		return err
	}
	return h.Close()
}

func runRm(root *driver.Handle, path string) error {
	h, err := root.Open(path, efi.ModeRead|efi.ModeWrite, 0)
	if err != nil {
		return err
	}
	if err := h.Delete(); err != nil {
		return fmt.Errorf("not deleted (%v)", err)
	}
	return nil
}

func runMv(root *driver.Handle, path, newName string) error {
	h, err := root.Open(path, efi.ModeRead|efi.ModeWrite, 0)
	if err != nil {
		return err
	}
	defer h.Close()

	info, err := h.Info()
	if err != nil {
		return err
	}
	info.FileName = newName
	return h.SetInfo(info)
}

func runLabel(root *driver.Handle, args []string) error {
	if len(args) == 0 {
		label, err := root.VolumeLabel()
		if err != nil {
			return err
		}
		fmt.Println(label)
		return nil
	}
	return root.SetVolumeLabel(args[0])
}
