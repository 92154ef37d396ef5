// Package s3 implements a read-only block device backed by a disk image
// stored in Amazon S3 or S3-compatible storage.
//
// Reads are served with ranged GetObject calls, so booting a file or two
// out of a multi-gigabyte image never downloads the whole object. The
// medium is always write protected: the driver mounts such volumes
// read-only and every write is refused before it reaches the network.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/uefifs/ntfsbridge/pkg/blockdev"
)

// S3BlockIO is a read-only, S3-backed blockdev.BlockIO.
type S3BlockIO struct {
	client *s3.Client
	bucket string
	key    string
	media  blockdev.Media

	// The block boundary is synchronous; every request inherits this
	// context, set at creation.
	ctx context.Context
}

// Options configures an S3 block device.
type Options struct {
	// Client is the configured S3 client. Required.
	Client *s3.Client

	// Bucket and Key locate the disk image object. Required.
	Bucket string
	Key    string

	// BlockSize is the logical block size. Defaults to 512.
	BlockSize uint32
}

// Open verifies the image object and returns a device for it. The
// object size must be a whole number of blocks.
func Open(ctx context.Context, opts Options) (*S3BlockIO, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("s3 block device: client is required")
	}
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 block device: bucket and key are required")
	}
	bs := opts.BlockSize
	if bs == 0 {
		bs = 512
	}

	head, err := opts.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(opts.Bucket),
		Key:    aws.String(opts.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 block device: locating image s3://%s/%s: %w",
			opts.Bucket, opts.Key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size == 0 || size%int64(bs) != 0 {
		return nil, fmt.Errorf("s3 block device: image size %d is not a multiple of block size %d",
			size, bs)
	}

	return &S3BlockIO{
		client: opts.Client,
		bucket: opts.Bucket,
		key:    opts.Key,
		ctx:    ctx,
		media: blockdev.Media{
			ID:        1,
			BlockSize: bs,
			LastBlock: uint64(size)/uint64(bs) - 1,
			ReadOnly:  true,
		},
	}, nil
}

func (d *S3BlockIO) Media() blockdev.Media { return d.media }

func (d *S3BlockIO) ReadAt(mediaID uint32, off int64, buf []byte) error {
	if mediaID != d.media.ID {
		return blockdev.ErrMediaChanged
	}
	if off < 0 || uint64(off)+uint64(len(buf)) > blockdev.Size(d.media) {
		return fmt.Errorf("s3 block device: I/O beyond end of medium (off=%d len=%d)", off, len(buf))
	}
	if len(buf) == 0 {
		return nil
	}

	// HTTP ranges are inclusive on both ends.
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(buf))-1)
	out, err := d.client.GetObject(d.ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
		Range:  aws.String(rng),
	})
	if err != nil {
		return fmt.Errorf("s3 block device: read at %#x: %w", off, err)
	}
	defer out.Body.Close()

	if _, err := io.ReadFull(out.Body, buf); err != nil {
		return fmt.Errorf("s3 block device: short read at %#x: %w", off, err)
	}
	return nil
}

func (d *S3BlockIO) WriteAt(mediaID uint32, off int64, buf []byte) error {
	if mediaID != d.media.ID {
		return blockdev.ErrMediaChanged
	}
	return fmt.Errorf("s3 block device: medium is write protected")
}

func (d *S3BlockIO) Flush() error { return nil }

func (d *S3BlockIO) Close() error { return nil }
