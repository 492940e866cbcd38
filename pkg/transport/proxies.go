package transport

import (
	"context"

	"github.com/amazonlinux/bottlerocket/scriptwatch/pkg/contracts"
)

// Services returns proxies for every contract, all sharing c.
func (c *Client) Services() contracts.Services {
	return contracts.Services{
		ScriptV1:     scriptServiceV1{c},
		ScriptV2:     scriptServiceV2{c},
		KubernetesV1: kubernetesScriptServiceV1{c},
		Capabilities: capabilitiesServiceV2{c},
	}
}

type scriptServiceV1 struct{ c *Client }

func (p scriptServiceV1) StartScript(ctx context.Context, cmd contracts.StartScriptCommand) (contracts.ScriptTicket, error) {
	var ticket contracts.ScriptTicket
	err := p.c.Call(ctx, contracts.ScriptServiceV1Name, "StartScript", cmd, &ticket)
	return ticket, err
}

func (p scriptServiceV1) GetStatus(ctx context.Context, req contracts.ScriptStatusRequest) (*contracts.ScriptStatusResponse, error) {
	res := &contracts.ScriptStatusResponse{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV1Name, "GetStatus", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p scriptServiceV1) CancelScript(ctx context.Context, cmd contracts.CancelScriptCommand) (*contracts.ScriptStatusResponse, error) {
	res := &contracts.ScriptStatusResponse{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV1Name, "CancelScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p scriptServiceV1) CompleteScript(ctx context.Context, cmd contracts.CompleteScriptCommand) (*contracts.ScriptStatusResponse, error) {
	res := &contracts.ScriptStatusResponse{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV1Name, "CompleteScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

type scriptServiceV2 struct{ c *Client }

func (p scriptServiceV2) StartScript(ctx context.Context, cmd contracts.StartScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
	res := &contracts.ScriptStatusResponseV2{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV2Name, "StartScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p scriptServiceV2) GetStatus(ctx context.Context, req contracts.ScriptStatusRequestV2) (*contracts.ScriptStatusResponseV2, error) {
	res := &contracts.ScriptStatusResponseV2{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV2Name, "GetStatus", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p scriptServiceV2) CancelScript(ctx context.Context, cmd contracts.CancelScriptCommandV2) (*contracts.ScriptStatusResponseV2, error) {
	res := &contracts.ScriptStatusResponseV2{}
	if err := p.c.Call(ctx, contracts.ScriptServiceV2Name, "CancelScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p scriptServiceV2) CompleteScript(ctx context.Context, cmd contracts.CompleteScriptCommandV2) error {
	return p.c.Call(ctx, contracts.ScriptServiceV2Name, "CompleteScript", cmd, nil)
}

type kubernetesScriptServiceV1 struct{ c *Client }

func (p kubernetesScriptServiceV1) StartScript(ctx context.Context, cmd contracts.StartKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	res := &contracts.KubernetesScriptStatusResponseV1{}
	if err := p.c.Call(ctx, contracts.KubernetesScriptServiceV1Name, "StartScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p kubernetesScriptServiceV1) GetStatus(ctx context.Context, req contracts.KubernetesScriptStatusRequestV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	res := &contracts.KubernetesScriptStatusResponseV1{}
	if err := p.c.Call(ctx, contracts.KubernetesScriptServiceV1Name, "GetStatus", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p kubernetesScriptServiceV1) CancelScript(ctx context.Context, cmd contracts.CancelKubernetesScriptCommandV1) (*contracts.KubernetesScriptStatusResponseV1, error) {
	res := &contracts.KubernetesScriptStatusResponseV1{}
	if err := p.c.Call(ctx, contracts.KubernetesScriptServiceV1Name, "CancelScript", cmd, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p kubernetesScriptServiceV1) CompleteScript(ctx context.Context, cmd contracts.CompleteKubernetesScriptCommandV1) error {
	return p.c.Call(ctx, contracts.KubernetesScriptServiceV1Name, "CompleteScript", cmd, nil)
}

type capabilitiesServiceV2 struct{ c *Client }

func (p capabilitiesServiceV2) GetCapabilities(ctx context.Context) (*contracts.CapabilitiesResponseV2, error) {
	res := &contracts.CapabilitiesResponseV2{}
	if err := p.c.Call(ctx, contracts.CapabilitiesServiceV2Name, "GetCapabilities", nil, res); err != nil {
		return nil, err
	}
	return res, nil
}
