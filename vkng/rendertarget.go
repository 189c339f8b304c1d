package vkng

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/frameloop/frame"
)

// RenderTarget is a single-subpass render pass writing one color attachment
// and a pipeline whose viewport and scissor are set at record time.
type RenderTarget struct {
	driver core1_0.CoreDeviceDriver

	renderPass     core1_0.RenderPass
	pipelineLayout core1_0.PipelineLayout
	pipeline       core1_0.Pipeline
}

func (t *RenderTarget) Destroy() {
	if t.pipeline.Initialized() {
		t.driver.DestroyPipeline(t.pipeline, nil)
		t.pipeline = core1_0.Pipeline{}
	}

	if t.pipelineLayout.Initialized() {
		t.driver.DestroyPipelineLayout(t.pipelineLayout, nil)
		t.pipelineLayout = core1_0.PipelineLayout{}
	}

	if t.renderPass.Initialized() {
		t.driver.DestroyRenderPass(t.renderPass, nil)
		t.renderPass = core1_0.RenderPass{}
	}
}

// RenderTargetBuilder reads SPIR-V from disk on every Build, so a rebuild
// picks up recompiled shaders.
type RenderTargetBuilder struct {
	session      *Session
	vertexPath   string
	fragmentPath string
}

func NewRenderTargetBuilder(session *Session, vertexPath, fragmentPath string) *RenderTargetBuilder {
	return &RenderTargetBuilder{
		session:      session,
		vertexPath:   vertexPath,
		fragmentPath: fragmentPath,
	}
}

// Build is a frame.RenderTargetBuilderFunc.
func (b *RenderTargetBuilder) Build(swapchain frame.Swapchain) (frame.RenderTarget, error) {
	sc, ok := swapchain.(*Swapchain)
	if !ok {
		return nil, errors.Newf("vkng: swapchain %T was not built by vkng", swapchain)
	}

	target := &RenderTarget{driver: b.session.deviceDriver}

	err := target.createRenderPass(sc.format)
	if err != nil {
		target.Destroy()
		return nil, err
	}

	err = target.createGraphicsPipeline(b.vertexPath, b.fragmentPath)
	if err != nil {
		target.Destroy()
		return nil, err
	}

	return target, nil
}

func (t *RenderTarget) createRenderPass(format core1_0.Format) error {
	renderPass, _, err := t.driver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	t.renderPass = renderPass
	return nil
}

func (t *RenderTarget) loadShader(path string) (core1_0.ShaderModule, error) {
	shaderBytes, err := os.ReadFile(path)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrap(err, "read shader")
	}

	code, err := bytesToBytecode(shaderBytes)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "shader %s", path)
	}

	shader, _, err := t.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrapf(err, "create shader module from %s", path)
	}
	return shader, nil
}

func (t *RenderTarget) createGraphicsPipeline(vertexPath, fragmentPath string) error {
	vertShader, err := t.loadShader(vertexPath)
	if err != nil {
		return err
	}
	defer t.driver.DestroyShaderModule(vertShader, nil)

	fragShader, err := t.loadShader(fragmentPath)
	if err != nil {
		return err
	}
	defer t.driver.DestroyShaderModule(fragShader, nil)

	// The triangle's vertices come from gl_VertexIndex.
	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	// Counts only; the values are recorded per frame.
	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{{}},
		Scissors:  []core1_0.Rect2D{{}},
	}

	dynamicState := &core1_0.PipelineDynamicStateCreateInfo{
		DynamicStates: []core1_0.DynamicState{
			core1_0.DynamicStateViewport,
			core1_0.DynamicStateScissor,
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	t.pipelineLayout, _, err = t.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}

	pipelines, _, err := t.driver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			ColorBlendState:    colorBlend,
			DynamicState:       dynamicState,
			Layout:             t.pipelineLayout,
			RenderPass:         t.renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}
	t.pipeline = pipelines[0]

	return nil
}

// bytesToBytecode reinterprets little-endian SPIR-V bytes as words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V length %d is not a positive multiple of 4", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad SPIR-V magic %#08x", byteCode[0])
	}
	if len(byteCode) < spirvHeaderWords {
		return nil, errors.Newf("SPIR-V module of %d words is shorter than its header", len(byteCode))
	}
	return byteCode, nil
}

const (
	spirvMagic       = 0x07230203
	spirvHeaderWords = 5
)

// CheckShader reports whether path currently holds a loadable SPIR-V module,
// so a half-written file does not trigger a rebuild.
func CheckShader(path string) error {
	shaderBytes, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read shader")
	}

	_, err = bytesToBytecode(shaderBytes)
	return errors.Wrapf(err, "shader %s", path)
}
