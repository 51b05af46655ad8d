// Package edepot pushes finished packages to S3-compatible object storage.
// Files are uploaded to a per-creator bucket with their manifest metadata
// attached, verified against the manifest digest after upload, and made
// readable by flipping their ACL. The package directory is the source of
// truth; nothing here mutates a package.
package edepot

import (
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edepot/sipkit/concepts"
	"github.com/edepot/sipkit/config"
	"github.com/edepot/sipkit/manifest"
	"github.com/edepot/sipkit/util"
)

// ErrVerifyFailed indicates an uploaded object's digest does not match the
// manifest.
var ErrVerifyFailed = errors.New("uploaded object digest mismatch")

// A Depot is a connection to the object store. Bucket names are derived
// from each manifest entry's Source actor via the actor vocabulary.
type Depot struct {
	svc    *s3.S3
	actors *concepts.Resolver
}

// New opens a connection using the storage credentials in cfg. The actor
// resolver is used to map Source URIs to bucket names.
func New(cfg config.Config, actors *concepts.Resolver) (*Depot, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Storage.Endpoint),
		Region:           aws.String(cfg.Storage.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	return &Depot{
		svc:    s3.New(sess),
		actors: actors,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (d *Depot) EnsureBucket(bucket string) error {
	_, err := d.svc.HeadBucket(&s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if aerr, ok := err.(awserr.Error); !ok || (aerr.Code() != s3.ErrCodeNoSuchBucket && aerr.Code() != "NotFound") {
		return errors.Wrapf(err, "head bucket %s", bucket)
	}
	_, err = d.svc.CreateBucket(&s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return errors.Wrapf(err, "create bucket %s", bucket)
	}
	logrus.WithField("bucket", bucket).Info("created bucket")
	return nil
}

// Store uploads the file at localPath under the given key with the
// metadata attached to the object.
func (d *Depot) Store(bucket, key, localPath string, metadata map[string]string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	md := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		md[k] = aws.String(v)
	}
	_, err = d.svc.PutObject(&s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: md,
	})
	return errors.Wrapf(err, "put %s/%s", bucket, key)
}

// Verify downloads the object and compares its MD5 digest against
// expectedMD5. The object is streamed through the hash, not buffered.
func (d *Depot) Verify(bucket, key, expectedMD5 string) (bool, error) {
	out, err := d.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, errors.Wrapf(err, "get %s/%s", bucket, key)
	}
	defer out.Body.Close()
	digest, err := util.MD5Reader(out.Body)
	if err != nil {
		return false, err
	}
	return digest == expectedMD5, nil
}

// UpdateACL sets a canned ACL, e.g. "public-read", on the object.
func (d *Depot) UpdateACL(bucket, key, acl string) error {
	_, err := d.svc.PutObjectAcl(&s3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		ACL:    aws.String(acl),
	})
	return errors.Wrapf(err, "acl %s/%s", bucket, key)
}

// bucketFor maps a manifest entry to its bucket: the skos:notation of the
// entry's Source actor, lowercased.
func (d *Depot) bucketFor(e *manifest.Entry) (string, error) {
	source := e.Extra[manifest.KeySource]
	if source == "" {
		return "", errors.New("manifest entry has no Source")
	}
	notation, err := d.actors.ValueForURI(source, concepts.SKOSNotation)
	if err != nil {
		return "", err
	}
	return strings.ToLower(notation), nil
}

// eachEntry runs fn for every manifest entry with its resolved bucket.
// Failures are reported per file and the pass continues; the first error is
// returned at the end so one bad object does not hide the rest.
func (d *Depot) eachEntry(m *manifest.Manifest, fn func(bucket, filename string, e *manifest.Entry) error) error {
	var firstErr error
	for _, filename := range m.Filenames() {
		e := m.Entry(filename)
		bucket, err := d.bucketFor(e)
		if err == nil {
			err = fn(bucket, filename, e)
		}
		if err != nil {
			logrus.WithError(err).WithField("file", filename).Error("depot operation")
			raven.CaptureError(err, map[string]string{"file": filename})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// StoreFromManifest uploads every file listed in the manifest to its
// bucket, with the entry's metadata attached to the object.
func (d *Depot) StoreFromManifest(m *manifest.Manifest, dir string) error {
	buckets := make(map[string]bool)
	return d.eachEntry(m, func(bucket, filename string, e *manifest.Entry) error {
		if !buckets[bucket] {
			if err := d.EnsureBucket(bucket); err != nil {
				return err
			}
			buckets[bucket] = true
		}
		md := map[string]string{
			"MD5Hash":     e.MD5Hash,
			"MD5HashDate": e.MD5HashDate,
		}
		for k, v := range e.Extra {
			md[k] = v
		}
		logrus.WithFields(logrus.Fields{"bucket": bucket, "key": filename}).Info("uploading")
		return d.Store(bucket, filename, dir+"/"+filename, md)
	})
}

// VerifyFromManifest checks that every uploaded file matches its manifest
// digest.
func (d *Depot) VerifyFromManifest(m *manifest.Manifest) error {
	return d.eachEntry(m, func(bucket, filename string, e *manifest.Entry) error {
		ok, err := d.Verify(bucket, filename, e.MD5Hash)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrVerifyFailed, "%s/%s", bucket, filename)
		}
		return nil
	})
}

// UpdateACLFromManifest applies the given canned ACL to every uploaded
// file.
func (d *Depot) UpdateACLFromManifest(m *manifest.Manifest, acl string) error {
	return d.eachEntry(m, func(bucket, filename string, e *manifest.Entry) error {
		return d.UpdateACL(bucket, filename, acl)
	})
}
