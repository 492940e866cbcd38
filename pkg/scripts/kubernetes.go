package scripts

import (
	"regexp"
	"strings"

	"github.com/awslabs/amazon-ecr-containerd-resolver/ecr"
	"github.com/containerd/containerd/reference/docker"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/validation"
)

// Expecting to match ECR image names of the form:
//
// Example 1: 777777777777.dkr.ecr.us-west-2.amazonaws.com/my_image:latest
// Example 2: 777777777777.dkr.ecr.cn-north-1.amazonaws.com.cn/my_image:latest
var ecrRegex = regexp.MustCompile(`(^[a-zA-Z0-9][a-zA-Z0-9-_]*)\.dkr\.ecr\.([a-zA-Z0-9][a-zA-Z0-9-_]*)\.amazonaws\.com(\.cn)?.*`)

// ImageConfiguration is the image a script pod runs and the feed credentials
// needed to pull it.
type ImageConfiguration struct {
	Image        string
	FeedURL      string
	FeedUsername string
	FeedPassword string
	// ECR is filled in by Validate for images hosted in ECR.
	ECR string
}

// KubernetesConfiguration describes the pod a script runs in.
type KubernetesConfiguration struct {
	// Image is optional, the agent has a default.
	Image              *ImageConfiguration
	ServiceAccountName string
	IsRawScript        bool
}

// ImageReference is a parsed pod image.
type ImageReference struct {
	// Name is the fully qualified reference the pod pulls.
	Name string
	// ECR is the resolver form of Name when the image lives in ECR.
	ECR string
}

// ParseImage qualifies image with its registry and tag, eg: "ubuntu" becomes
// "docker.io/library/ubuntu:latest".
func ParseImage(image string) (ImageReference, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return ImageReference{}, errors.New("image must not be empty")
	}
	var ref ImageReference
	if ecrRegex.MatchString(image) {
		ecrRef, err := ecr.ParseImageURI(image)
		if err != nil {
			return ImageReference{}, errors.Wrap(err, "failed to parse ECR reference")
		}
		ref.ECR = ecrRef.Canonical()
	}
	named, err := docker.ParseNormalizedNamed(image)
	if err != nil {
		return ImageReference{}, errors.Wrapf(err, "invalid image reference %q", image)
	}
	ref.Name = docker.TagNameOnly(named).String()
	return ref, nil
}

// Validate checks the configuration and returns a copy with the image
// reference normalised.
func (k *KubernetesConfiguration) Validate() (*KubernetesConfiguration, error) {
	out := *k
	if k.ServiceAccountName != "" {
		if errs := validation.IsDNS1123Subdomain(k.ServiceAccountName); len(errs) > 0 {
			return nil, &InvalidCommandError{
				Reason: "service account name " + k.ServiceAccountName + ": " + strings.Join(errs, "; "),
			}
		}
	}
	if k.Image != nil {
		img := *k.Image
		if img.FeedUsername != "" && img.FeedURL == "" {
			return nil, &InvalidCommandError{Reason: "feed credentials given without a feed url"}
		}
		ref, err := ParseImage(img.Image)
		if err != nil {
			return nil, &InvalidCommandError{Reason: err.Error()}
		}
		img.Image = ref.Name
		img.ECR = ref.ECR
		out.Image = &img
	}
	return &out, nil
}
