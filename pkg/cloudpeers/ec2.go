// Package cloudpeers discovers ring peers running as EC2 instances, tagged
// with their node UID, so a node booting on a fresh host can find its
// registrar and siblings without a hardcoded peer list. Adapted from
// ZTAP's pkg/cloud.AWSClient, narrowed from security-group synchronization
// to plain instance discovery.
package cloudpeers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// UIDTag and RoleTag are the EC2 tags a ring deployment uses to mark its
// instances. RoleTag distinguishes the registrar host from node hosts.
const (
	UIDTag  = "ringvote:uid"
	RoleTag = "ringvote:role"

	RoleRegistrar = "registrar"
	RoleNode      = "node"
)

// ec2API captures the EC2 operations cloudpeers needs, mirroring
// pkg/cloud.ec2API so a fake can stand in during tests instead of the real
// AWS SDK client.
type ec2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// Peer is a discovered ring participant.
type Peer struct {
	UID       int32
	Role      string
	PrivateIP string
}

// Client discovers ring peers via EC2 instance tags.
type Client struct {
	api    ec2API
	region string
}

// NewClient builds a Client using the default AWS credential chain for the
// given region.
func NewClient(ctx context.Context, region string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{api: ec2.NewFromConfig(cfg), region: region}, nil
}

// DiscoverPeers lists every running instance tagged with a ring UID.
func (c *Client) DiscoverPeers(ctx context.Context) ([]Peer, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: aws.String("tag-key"), Values: []string{UIDTag}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	}

	result, err := c.api.DescribeInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("describe instances: %w", err)
	}

	var peers []Peer
	for _, reservation := range result.Reservations {
		for _, instance := range reservation.Instances {
			tags := make(map[string]string, len(instance.Tags))
			for _, tag := range instance.Tags {
				tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
			}

			uidStr, ok := tags[UIDTag]
			if !ok {
				continue
			}
			uid, err := strconv.ParseInt(uidStr, 10, 32)
			if err != nil {
				continue
			}

			peers = append(peers, Peer{
				UID:       int32(uid),
				Role:      tags[RoleTag],
				PrivateIP: aws.ToString(instance.PrivateIpAddress),
			})
		}
	}

	return peers, nil
}

// FindRegistrar returns the first discovered instance tagged as the
// registrar, for a node's bootstrap dial.
func FindRegistrar(peers []Peer) (Peer, bool) {
	for _, p := range peers {
		if p.Role == RoleRegistrar {
			return p, true
		}
	}
	return Peer{}, false
}
