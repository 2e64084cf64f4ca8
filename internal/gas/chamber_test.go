package gas_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/airsusp/internal/gas"
)

var _ = Describe("Chamber", func() {
	var c *gas.Chamber

	newChamber := func(mode gas.Mode) *gas.Chamber {
		ch, err := gas.NewChamber("test", 5e-4, 5e-5, 6e5, 293.15, mode)
		Expect(err).NotTo(HaveOccurred())
		return ch
	}

	Describe("charging", func() {
		It("derives mass from the ideal-gas relation", func() {
			c = newChamber(gas.Isothermal)
			Expect(c.Mass).To(BeNumerically("~", 6e5*5e-4/(gas.R*293.15), 1e-12))
		})

		It("rejects a volume below the dead floor", func() {
			_, err := gas.NewChamber("bad", 1e-6, 5e-5, 6e5, 293.15, gas.Isothermal)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("isothermal stepping", func() {
		BeforeEach(func() { c = newChamber(gas.Isothermal) })

		It("holds temperature and follows P = mRT/V on compression", func() {
			p0, t0 := c.Pressure, c.Temperature
			_, err := c.Step(-1e-4, 0, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Temperature).To(Equal(t0))
			Expect(c.Pressure).To(BeNumerically("~", p0*5e-4/4e-4, 1e-6))
		})

		It("raises pressure with inflow at constant volume", func() {
			p0 := c.Pressure
			_, err := c.Step(0, c.Mass*0.1, 293.15, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Pressure).To(BeNumerically("~", p0*1.1, 1.0))
		})
	})

	Describe("adiabatic stepping", func() {
		BeforeEach(func() { c = newChamber(gas.Adiabatic) })

		It("heats on compression per the polytropic relation", func() {
			t0 := c.Temperature
			_, err := c.Step(-1e-4, 0, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			want := t0 * math.Pow(5e-4/4e-4, gas.Gamma-1)
			Expect(c.Temperature).To(BeNumerically("~", want, 1e-9))
		})

		It("mixes inflow energy at the source temperature", func() {
			m0, t0 := c.Mass, c.Temperature
			_, err := c.Step(0, m0, 2*t0, 0) // double the mass, hot gas
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Temperature).To(BeNumerically("~", 1.5*t0, 1e-9))
		})

		It("cools on expansion", func() {
			t0 := c.Temperature
			_, err := c.Step(+1e-4, 0, 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Temperature).To(BeNumerically("<", t0))
		})
	})

	Describe("mass starvation", func() {
		It("caps outflow at the available mass and reports the shortfall", func() {
			c = newChamber(gas.Isothermal)
			m0 := c.Mass
			starved, err := c.Step(0, 0, 0, m0*2)
			Expect(err).NotTo(HaveOccurred())
			Expect(starved).To(BeNumerically(">", 0))
			Expect(c.Mass).To(BeNumerically(">", 0))
			Expect(c.Valid()).To(BeTrue())
		})
	})

	Describe("invariant guards", func() {
		It("rejects a volume change below the dead floor", func() {
			c = newChamber(gas.Adiabatic)
			_, err := c.Step(-4.9e-4, 0, 0, 0)
			Expect(err).To(HaveOccurred())
			// state untouched on fault
			Expect(c.Volume).To(Equal(5e-4))
		})
	})

	Describe("mode switching", func() {
		It("preserves pressure and volume at the instant of switch", func() {
			c = newChamber(gas.Isothermal)
			p0, v0, t0 := c.Pressure, c.Volume, c.Temperature
			c.SwitchMode(gas.Adiabatic)
			Expect(c.Pressure).To(Equal(p0))
			Expect(c.Volume).To(Equal(v0))
			Expect(c.Temperature).To(Equal(t0))
			Expect(c.Mode).To(Equal(gas.Adiabatic))
		})

		It("is a no-op for the same mode", func() {
			c = newChamber(gas.Adiabatic)
			m0 := c.Mass
			c.SwitchMode(gas.Adiabatic)
			Expect(c.Mass).To(Equal(m0))
		})
	})
})

var _ = Describe("Receiver", func() {
	It("matches geometric and manual volume entry", func() {
		geo := gas.ReceiverConfig{Mode: gas.VolumeGeometric, Diameter: 0.3, Length: 0.8}
		man := gas.ReceiverConfig{Mode: gas.VolumeManual, VolumeLiters: geo.Volume() * 1000}
		Expect(geo.Volume()).To(BeNumerically("~", 0.056549, 1e-5))
		Expect(man.Volume()).To(BeNumerically("~", geo.Volume(), 1e-12))
	})

	It("conserves internal energy across a mode switch", func() {
		c, err := gas.NewChamber("receiver", 0.05, 1e-4, 8e5, 293.15, gas.Adiabatic)
		Expect(err).NotTo(HaveOccurred())
		u0 := c.Mass * gas.Cv * c.Temperature

		rc := gas.ReceiverConfig{Mode: gas.VolumeGeometric, Diameter: 0.3, Length: 0.8}
		Expect(rc.ApplyTo(c)).To(Succeed())

		u1 := c.Mass * gas.Cv * c.Temperature
		Expect(u1).To(BeNumerically("~", u0, 1e-9))
		// ideal-gas state stays consistent
		Expect(c.Pressure).To(BeNumerically("~", c.Mass*gas.R*c.Temperature/c.Volume, 1e-9))
	})

	It("rejects invalid dimensions", func() {
		Expect(gas.ReceiverConfig{Mode: gas.VolumeGeometric, Diameter: -1, Length: 0.8}.Validate()).NotTo(Succeed())
		Expect(gas.ReceiverConfig{Mode: gas.VolumeManual}.Validate()).NotTo(Succeed())
	})
})
