package main

import (
	"context"
	"fmt"
	"os"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/urfave/cli"
)

var objectCommands = []cli.Command{
	{
		Name:      "objects",
		ShortName: "o",
		Usage:     "Read and write raw objects of the user.",
		Category:  "Storage",
		Subcommands: []cli.Command{
			storeObjectCommand,
			retrieveObjectCommand,
			objectMetadataCommand,
			forkObjectCommand,
		},
	},
	{
		Name:     "media",
		Usage:    "Post media to the relay and read its metadata.",
		Category: "Storage",
		Subcommands: []cli.Command{
			postMediaCommand,
			mediaMetadataCommand,
		},
	},
}

const (
	objectName = "name"
	fileName   = "file"
	tagName    = "tag"
	srcName    = "src"
	dstName    = "dst"
	mediaID    = "id"
)

var objectNameFlag = cli.StringFlag{
	Name:  objectName,
	Usage: "the name of the object",
}

var storeObjectCommand = cli.Command{
	Name:  "store",
	Usage: "store the content of a file as an object",
	Flags: []cli.Flag{
		objectNameFlag,
		cli.StringFlag{
			Name:      fileName,
			Usage:     "the file to store",
			TakesFile: true,
		},
		cli.StringFlag{
			Name: tagName,
			Usage: fmt.Sprintf("the metadata tag of at most %d bytes",
				carbonado.MetadataSize),
		},
		cli.BoolFlag{
			Name:  forceName,
			Usage: "keep the metadata tag of the stored object",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		data, err := os.ReadFile(c.String(fileName))
		if err != nil {
			return nil, err
		}

		tag := c.String(tagName)
		if len(tag) > carbonado.MetadataSize {
			return nil, fmt.Errorf("tag %q is longer than %d bytes",
				tag, carbonado.MetadataSize)
		}
		var metadata [carbonado.MetadataSize]byte
		copy(metadata[:], tag)

		err = srv.StoreObject(
			ctx, sk, c.String(objectName), data, metadata,
			c.Bool(forceName),
		)
		if err != nil {
			return nil, err
		}

		return map[string]int{"stored": len(data)}, nil
	}),
}

var retrieveObjectCommand = cli.Command{
	Name:  "retrieve",
	Usage: "write an object to a file",
	Flags: []cli.Flag{
		objectNameFlag,
		cli.StringFlag{
			Name:      fileName,
			Usage:     "the file to write",
			TakesFile: true,
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		data, err := srv.RetrieveObject(ctx, sk, c.String(objectName))
		if err != nil {
			return nil, err
		}

		err = os.WriteFile(c.String(fileName), data, 0600)
		if err != nil {
			return nil, err
		}

		return map[string]int{"retrieved": len(data)}, nil
	}),
}

var objectMetadataCommand = cli.Command{
	Name:  "metadata",
	Usage: "show the header of an object",
	Flags: []cli.Flag{objectNameFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.RetrieveMetadata(ctx, sk, c.String(objectName))
	}),
}

var forkObjectCommand = cli.Command{
	Name:  "fork",
	Usage: "copy an object under another name",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  srcName,
			Usage: "the name of the object to copy",
		},
		cli.StringFlag{
			Name:  dstName,
			Usage: "the name of the copy",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		err := srv.ForkObject(ctx, sk, c.String(srcName), c.String(dstName))
		if err != nil {
			return nil, err
		}

		return struct{}{}, nil
	}),
}

var postMediaCommand = cli.Command{
	Name:  "post",
	Usage: "post media items to the relay",
	Flags: []cli.Flag{
		cli.StringSliceFlag{
			Name: mediaName,
			Usage: "a media item, mime=source, can be given " +
				"several times",
		},
	},
	Action: serverAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server) (interface{}, error) {

		media, err := parseMedia(c.StringSlice(mediaName))
		if err != nil {
			return nil, err
		}

		return srv.PostMedia(ctx, media)
	}),
}

var mediaMetadataCommand = cli.Command{
	Name:  "metadata",
	Usage: "show the relay metadata of a media item",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  mediaID,
			Usage: "the relay id of the media item",
		},
	},
	Action: serverAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server) (interface{}, error) {

		return srv.MediaMetadata(ctx, c.String(mediaID))
	}),
}
